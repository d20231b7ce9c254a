package indexer

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutines leak from coordinator workers or sync
// timers in any test in this package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("sync.runtime_Semacquire"),
	)
}
