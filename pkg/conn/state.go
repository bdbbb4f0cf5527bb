package conn

import (
	"fmt"

	"github.com/ssk18/BleFlux/pkg/blerr"
)

// State is the sealed connection lifecycle state, mutated only by the
// Controller in response to caller operations and adapter callbacks.
type State interface {
	connectionState()
	fmt.Stringer
}

// Disconnected is the initial and post-teardown state.
type Disconnected struct{}

// Connecting covers an in-flight connection attempt.
type Connecting struct {
	Address string
}

// Connected is an established link to the peripheral at Address.
type Connected struct {
	Address string
}

// Disconnecting covers a self-initiated, in-flight teardown.
type Disconnecting struct {
	Address string
}

// Failed is the error state. CanRetry tells callers whether another connect
// attempt is worth making.
type Failed struct {
	Err      *blerr.Error
	CanRetry bool
}

func (Disconnected) connectionState()  {}
func (Connecting) connectionState()    {}
func (Connected) connectionState()     {}
func (Disconnecting) connectionState() {}
func (Failed) connectionState()        {}

func (Disconnected) String() string    { return "disconnected" }
func (s Connecting) String() string    { return fmt.Sprintf("connecting to %s", s.Address) }
func (s Connected) String() string     { return fmt.Sprintf("connected to %s", s.Address) }
func (s Disconnecting) String() string { return fmt.Sprintf("disconnecting from %s", s.Address) }
func (f Failed) String() string {
	return fmt.Sprintf("failed: %v (retry=%t)", f.Err, f.CanRetry)
}
