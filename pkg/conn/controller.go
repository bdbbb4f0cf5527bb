// Package conn owns the connection lifecycle for a single peripheral at a
// time. It serializes connect, disconnect and signal-strength reads behind
// one in-flight operation, converts the adapter's asynchronous callbacks
// into awaitable results via a single pending waiter, and guarantees the
// adapter handle is released exactly once on every exit path.
package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssk18/BleFlux/internal/opexec"
	"github.com/ssk18/BleFlux/internal/pending"
	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/device"
	"github.com/ssk18/BleFlux/pkg/hub"
)

// Controller is the connection state machine. A second operation started
// while one is in flight is rejected with a concurrent-operation error
// rather than queued; callers retry after the active operation settles.
type Controller struct {
	adapter adapter.RadioAdapter
	logger  *logrus.Logger

	mu         sync.Mutex
	state      State
	busy       bool // one caller operation in flight at a time
	handle     adapter.ConnectionHandle
	peripheral *device.Peripheral
	cleaned    bool // per-attempt guard: adapter handle released at most once

	// Pending waiters, resolved by adapter callbacks. At most one is
	// non-nil at any time, matching the single in-flight operation.
	pendingAddr string
	linkWaiter  *pending.Waiter[string]
	rssiWaiter  *pending.Waiter[int]

	states *hub.Hub[State]
	errhub *hub.Hub[*blerr.Error]
}

// NewController creates a connection controller. The exception hub is shared
// with other controllers and may be nil.
func NewController(radio adapter.RadioAdapter, errhub *hub.Hub[*blerr.Error], logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		adapter: radio,
		logger:  logger,
		state:   Disconnected{},
		cleaned: true,
		states:  hub.New[State](logger),
		errhub:  errhub,
	}
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeStates registers an observer for connection state transitions.
// Transitions are published while the controller lock is held: a
// PolicyBlocking or PolicyRendezvous subscriber must drain promptly and must
// not call controller methods from the receiving goroutine.
func (c *Controller) SubscribeStates(policy hub.Policy, capacity int) *hub.Subscription[State] {
	return c.states.Subscribe(policy, capacity)
}

// IsConnected reports whether the controller holds an established link.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.state.(Connected)
	return ok
}

// ConnectedPeripheral returns the peripheral of the active connection, or
// false when the state is anything but Connected.
func (c *Controller) ConnectedPeripheral() (device.Peripheral, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(Connected); ok && c.peripheral != nil {
		return *c.peripheral, true
	}
	return device.Peripheral{}, false
}

// Connect establishes a connection to p, bounded by timeout. An existing
// connection is torn down first; if that teardown fails, Connect fails
// without starting the new attempt. Cancelling ctx releases the adapter
// handle synchronously and propagates the cancellation unchanged.
func (c *Controller) Connect(ctx context.Context, p device.Peripheral, autoReconnect bool, timeout time.Duration) error {
	if err := c.claim(blerr.OpConnect); err != nil {
		c.publishError(err)
		return err
	}
	defer c.release()

	if c.IsConnected() {
		if err := c.disconnectInternal(ctx); err != nil {
			c.logger.WithError(err).Error("Disconnect before reconnect failed")
			return err
		}
	}

	addr := p.Address()
	ectx := blerr.Context{Address: addr}

	c.mu.Lock()
	c.peripheral = &p
	c.cleaned = false
	waiter := pending.New[string]()
	c.linkWaiter = waiter
	c.pendingAddr = addr
	c.setStateLocked(Connecting{Address: addr})
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address":        addr,
		"auto_reconnect": autoReconnect,
		"timeout":        timeout,
	}).Info("Connecting to peripheral")

	handle := c.adapter.OpenConnection(p, autoReconnect, c)
	if handle == nil {
		classified := &blerr.Error{
			Category:  blerr.CategoryConnection,
			Op:        blerr.OpConnect,
			Code:      blerr.CodeNone,
			Address:   addr,
			Message:   "adapter returned no connection handle",
			Retryable: true,
		}
		c.mu.Lock()
		c.linkWaiter = nil
		c.cleanupLocked()
		c.setStateLocked(Failed{Err: classified, CanRetry: true})
		c.mu.Unlock()
		c.publishError(classified)
		return classified
	}

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()

	_, err := opexec.Await(ctx, timeout, blerr.OpConnect, ectx, waiter)

	c.mu.Lock()
	c.linkWaiter = nil
	if err != nil {
		// Cleanup happens before anything propagates, including cancellation.
		c.cleanupLocked()
		if errors.Is(err, context.Canceled) {
			c.setStateLocked(Disconnected{})
			c.mu.Unlock()
			return err
		}
		classified := blerr.Wrap(blerr.OpConnect, err, ectx)
		c.setStateLocked(Failed{Err: classified, CanRetry: classified.Retryable})
		c.mu.Unlock()
		c.publishError(classified)
		return classified
	}
	c.setStateLocked(Connected{Address: addr})
	c.mu.Unlock()

	c.logger.WithField("address", addr).Info("Peripheral connected")
	return nil
}

// Disconnect tears down the active connection. Calling it when nothing is
// connected is a no-op success. There is no timeout beyond the caller's own
// ctx; adapter confirmation is awaited via the pending slot.
func (c *Controller) Disconnect(ctx context.Context) error {
	if err := c.claim(blerr.OpDisconnect); err != nil {
		c.publishError(err)
		return err
	}
	defer c.release()
	return c.disconnectInternal(ctx)
}

func (c *Controller) disconnectInternal(ctx context.Context) error {
	c.mu.Lock()
	cur, ok := c.state.(Connected)
	if !ok || c.handle == nil {
		c.mu.Unlock()
		return nil
	}
	addr := cur.Address
	handle := c.handle
	waiter := pending.New[string]()
	c.linkWaiter = waiter
	c.pendingAddr = addr
	c.setStateLocked(Disconnecting{Address: addr})
	c.mu.Unlock()

	c.logger.WithField("address", addr).Info("Disconnecting from peripheral")
	c.adapter.DisconnectConnection(handle)

	_, err := opexec.Await(ctx, 0, blerr.OpDisconnect, blerr.Context{Address: addr}, waiter)

	c.mu.Lock()
	c.linkWaiter = nil
	c.cleanupLocked()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.setStateLocked(Disconnected{})
			c.mu.Unlock()
			return err
		}
		classified := blerr.Wrap(blerr.OpDisconnect, err, blerr.Context{Address: addr})
		c.setStateLocked(Failed{Err: classified, CanRetry: classified.Retryable})
		c.mu.Unlock()
		c.publishError(classified)
		return classified
	}
	c.setStateLocked(Disconnected{})
	c.mu.Unlock()

	c.logger.WithField("address", addr).Info("Peripheral disconnected")
	return nil
}

// ReadSignalStrength reads the RSSI of the active connection. A failure to
// even issue the adapter read returns immediately instead of waiting for a
// callback that will never come.
func (c *Controller) ReadSignalStrength(ctx context.Context, timeout time.Duration) (int, error) {
	if err := c.claim(blerr.OpRSSI); err != nil {
		c.publishError(err)
		return 0, err
	}
	defer c.release()

	c.mu.Lock()
	cur, ok := c.state.(Connected)
	if !ok || c.handle == nil {
		c.mu.Unlock()
		err := blerr.NotConnected(blerr.OpRSSI)
		c.publishError(err)
		return 0, err
	}
	addr := cur.Address
	handle := c.handle
	waiter := pending.New[int]()
	c.rssiWaiter = waiter
	c.pendingAddr = addr
	c.mu.Unlock()

	if !c.adapter.ReadSignalStrength(handle) {
		c.mu.Lock()
		c.rssiWaiter = nil
		c.mu.Unlock()
		err := &blerr.Error{
			Category:  blerr.CategoryGatt,
			Op:        blerr.OpRSSI,
			Code:      blerr.CodeNone,
			Address:   addr,
			Message:   "failed to issue signal strength read",
			Retryable: true,
		}
		c.publishError(err)
		return 0, err
	}

	rssi, err := opexec.Await(ctx, timeout, blerr.OpRSSI, blerr.Context{Address: addr}, waiter)

	c.mu.Lock()
	c.rssiWaiter = nil
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		classified := blerr.Wrap(blerr.OpRSSI, err, blerr.Context{Address: addr})
		c.publishError(classified)
		return 0, classified
	}
	return rssi, nil
}

// OnConnectionStateChange implements adapter.ConnEvents. It resolves the
// pending waiter when one matches, handles unsolicited link transitions, and
// ignores events for addresses other than the pending or connected target.
func (c *Controller) OnConnectionStateChange(address string, connected bool, status int) {
	c.mu.Lock()

	if connected {
		if status == blerr.CodeSuccess {
			if w := c.linkWaiter; w != nil && address == c.pendingAddr {
				c.mu.Unlock()
				w.Resolve(address)
				return
			}
			c.mu.Unlock()
			c.logger.WithField("address", address).Debug("Ignoring stale connected event")
			return
		}
		// Connected with a failure status never confirms anything.
		classified := blerr.Classify(blerr.OpConnect, status, blerr.Context{Address: address})
		if w := c.linkWaiter; w != nil && address == c.pendingAddr {
			c.mu.Unlock()
			w.Fail(classified)
			return
		}
		c.mu.Unlock()
		c.publishError(classified)
		return
	}

	switch cur := c.state.(type) {
	case Connecting:
		if address != c.pendingAddr {
			c.mu.Unlock()
			c.logger.WithFields(logrus.Fields{
				"address": address,
				"status":  status,
			}).Debug("Ignoring disconnected event for unrelated address during connect")
			return
		}
		classified := c.classifyLinkDrop(blerr.OpConnect, address, status, "failed to connect")
		if w := c.linkWaiter; w != nil {
			c.mu.Unlock()
			w.Fail(classified)
			return
		}
		c.setStateLocked(Failed{Err: classified, CanRetry: true})
		c.mu.Unlock()
		c.publishError(classified)

	case Disconnecting:
		if address != c.pendingAddr {
			c.mu.Unlock()
			c.logger.WithFields(logrus.Fields{
				"address": address,
				"status":  status,
			}).Debug("Ignoring disconnected event for unrelated address during teardown")
			return
		}
		if w := c.linkWaiter; w != nil {
			c.mu.Unlock()
			w.Resolve(address)
			return
		}
		c.cleanupLocked()
		c.setStateLocked(Disconnected{})
		c.mu.Unlock()

	case Connected:
		if address != cur.Address {
			c.mu.Unlock()
			c.logger.WithFields(logrus.Fields{
				"address": address,
				"status":  status,
			}).Debug("Ignoring disconnected event for unrelated address")
			return
		}
		// Unsolicited link loss.
		classified := c.classifyLinkDrop(blerr.OpDisconnect, address, status, "connection lost unexpectedly")
		c.cleanupLocked()
		c.setStateLocked(Failed{Err: classified, CanRetry: true})
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"status":  status,
		}).Warn("Unexpected disconnection")
		c.publishError(classified)

	default:
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"status":  status,
		}).Debug("Ignoring disconnected event with no active link")
	}
}

// OnRSSI implements adapter.ConnEvents. Results for an address other than the
// pending target are ignored.
func (c *Controller) OnRSSI(address string, rssi int, status int) {
	c.mu.Lock()
	w := c.rssiWaiter
	pendingAddr := c.pendingAddr
	c.mu.Unlock()
	if w == nil {
		return
	}
	if address != pendingAddr {
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"rssi":    rssi,
		}).Debug("Ignoring RSSI result for unrelated address")
		return
	}
	if status == blerr.CodeSuccess {
		w.Resolve(rssi)
		return
	}
	w.Fail(blerr.Classify(blerr.OpRSSI, status, blerr.Context{Address: address}))
}

// classifyLinkDrop maps a disconnected-event status. A success status on an
// unsolicited drop still classifies as link loss; retryable either way.
func (c *Controller) classifyLinkDrop(op blerr.Op, address string, status int, msg string) *blerr.Error {
	if status != blerr.CodeSuccess {
		return blerr.Classify(op, status, blerr.Context{Address: address})
	}
	return &blerr.Error{
		Category:  blerr.CategoryConnection,
		Op:        op,
		Code:      status,
		Address:   address,
		Message:   msg,
		Retryable: true,
	}
}

// claim reserves the controller for one caller operation, rejecting
// concurrent calls.
func (c *Controller) claim(op blerr.Op) *blerr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return blerr.ConcurrentOperation(op)
	}
	c.busy = true
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// cleanupLocked releases the adapter handle and cached peripheral. At most
// once per connection attempt; callers must hold mu.
func (c *Controller) cleanupLocked() {
	if c.cleaned {
		return
	}
	c.cleaned = true
	if c.handle != nil {
		c.adapter.CloseConnection(c.handle)
		c.handle = nil
	}
	c.peripheral = nil
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.states.Publish(s)
}

func (c *Controller) publishError(err *blerr.Error) {
	if c.errhub != nil {
		c.errhub.Publish(err)
	}
}
