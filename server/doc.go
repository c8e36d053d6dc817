// Package server defines the capability surface this library consumes from a
// JACK-style audio server: open a client, register ports, bind one process
// and one shutdown callback, activate, query engine parameters, enumerate and
// connect ports, close.
//
// The interfaces exist so the session lifecycle can be exercised against a
// stub server in tests. Production code uses the go-jack backed
// implementation in server/jackd.
package server
