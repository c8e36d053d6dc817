// Package jackclient manages the lifecycle of a client of a JACK-style
// real-time audio server: handshake and name negotiation, port registration,
// a single real-time processing callback, activation with auto-connection to
// physical ports, and deterministic teardown.
//
// # Lifecycle
//
// A session moves through four states:
//
//	New(cfg)  -> created
//	Open()    -> open     (handshake, callbacks bound, ports registered,
//	                       sample rate and buffer size fixed)
//	Run()     -> running  (activated; the server invokes the process
//	                       callback once per block)
//	Close()   -> closed   (handle released, ports invalid; idempotent)
//
// Open, Run and Close belong to one controlling thread, called sequentially.
// The process callback runs on the server's real-time thread; the shutdown
// notification may arrive on yet another thread and is observed through
// Session.ShutdownC.
//
// # Minimal use
//
//	sess, err := jackclient.New(jackclient.Config{
//	    Name:    "passthrough",
//	    Backend: jackd.Backend{},
//	    Process: func(c *jackclient.Cycle) int {
//	        copy(c.Out(), c.In())
//	        return 0
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sess.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close()
//	if err := sess.Run(); err != nil {
//	    log.Println(err) // missing hardware ports is survivable
//	}
//	<-sess.ShutdownC()
//
// # Real-time safety
//
// The process callback is invoked on the server's real-time thread with a
// hard deadline of one block period (Session.BlockPeriod). It must not
// block, allocate, take contended locks, or log. Violations do not crash;
// they glitch. Everything the callback reads from the session is written
// before Run and immutable afterwards, so no synchronization is needed on
// the hot path.
//
// # Errors
//
// Fatal lifecycle failures (ErrServerUnavailable, ErrPortExhausted,
// ErrActivationFailed) abort the current session; the library never
// terminates the process. Missing physical ports during auto-connection are
// returned from Run but leave the session running. Individually refused
// connections go to the configured ErrorHandler.
package jackclient
