package test

import (
	"os"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
)

// DefaultGuardTimeout is the time a guarded test may run before all
// goroutines are dumped.
const DefaultGuardTimeout = 5 * time.Second

// Guard implements a test level timeout and checks for leaked goroutines
// once the returned function is called. An optional timeout replaces
// DefaultGuardTimeout.
func Guard(t *testing.T, timeout ...time.Duration) func() {
	limit := DefaultGuardTimeout
	if len(timeout) > 0 {
		limit = timeout[0]
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(limit):
			err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
			if err != nil {
				panic(err)
			}

			panic("test timeout: " + t.Name())

		case <-done:
		}
	}()

	fn := leaktest.Check(t)

	return func() {
		close(done)
		fn()
	}
}
