package scan

import (
	"fmt"
	"time"

	"github.com/ssk18/BleFlux/pkg/blerr"
)

// State is the sealed scan lifecycle state. Exactly one variant is current
// at any time; transitions happen only inside the Controller.
type State interface {
	scanState()
	fmt.Stringer
}

// Idle is the initial state before any scan has been started.
type Idle struct{}

// Starting covers the window between the start request and the adapter
// accepting it.
type Starting struct{}

// Scanning is an active discovery session.
type Scanning struct {
	Started time.Time
}

// Stopped is the terminal state after an explicit or cancellation-driven
// stop. A new Start is required to scan again.
type Stopped struct{}

// TimedOut is the terminal state after the scan timeout elapsed.
type TimedOut struct {
	Elapsed time.Duration
}

// Failed is the terminal error state. CanRetry tells callers whether a later
// Start may succeed.
type Failed struct {
	Err      *blerr.Error
	CanRetry bool
}

func (Idle) scanState()     {}
func (Starting) scanState() {}
func (Scanning) scanState() {}
func (Stopped) scanState()  {}
func (TimedOut) scanState() {}
func (Failed) scanState()   {}

func (Idle) String() string     { return "idle" }
func (Starting) String() string { return "starting" }
func (s Scanning) String() string {
	return fmt.Sprintf("scanning since %s", s.Started.Format(time.RFC3339))
}
func (Stopped) String() string { return "stopped" }
func (t TimedOut) String() string {
	return fmt.Sprintf("timed out after %s", t.Elapsed)
}
func (f Failed) String() string {
	return fmt.Sprintf("failed: %v (retry=%t)", f.Err, f.CanRetry)
}
