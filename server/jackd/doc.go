// Package jackd implements the server capability surface against a real JACK
// server via github.com/xthexder/go-jack. It requires cgo and the JACK client
// library at build time, and a reachable jackd at run time.
package jackd
