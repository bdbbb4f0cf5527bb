// Package scan owns the discovery lifecycle: it validates prerequisites,
// drives the radio adapter's scanner, deduplicates discovered devices by
// address and publishes state transitions and device snapshots.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ssk18/BleFlux/internal/groutine"
	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/device"
	"github.com/ssk18/BleFlux/pkg/hub"
)

// Options configures a single scan session.
type Options struct {
	// Timeout bounds the session; 0 scans until stopped or cancelled.
	Timeout  time.Duration
	Filters  adapter.ScanFilters
	Settings adapter.ScanSettings
}

// DefaultOptions returns the default scan configuration.
func DefaultOptions() *Options {
	return &Options{
		Timeout:  10 * time.Second,
		Settings: adapter.ScanSettings{AllowDuplicates: true},
	}
}

// session tracks one active scan so stop, timeout and cancellation race
// deterministically: whoever invalidates the session first wins.
type session struct {
	handle  adapter.ScannerHandle
	stop    chan struct{} // closed by explicit Stop; the watcher then backs off
	started time.Time
}

// Controller is the scan state machine. All state mutation happens under mu;
// the discovered-device registry has its own lock because adapter callbacks
// upsert concurrently with snapshot reads.
type Controller struct {
	adapter adapter.RadioAdapter
	checker adapter.PrereqChecker
	logger  *logrus.Logger

	mu      sync.Mutex
	state   State
	session *session

	devMu   sync.RWMutex
	devices *orderedmap.OrderedMap[string, device.DiscoveredDevice]

	states  *hub.Hub[State]
	devhub  *hub.Hub[[]device.DiscoveredDevice]
	errhub  *hub.Hub[*blerr.Error]
}

// NewController creates a scan controller. The exception hub is shared with
// other controllers and may be nil when no observers exist.
func NewController(radio adapter.RadioAdapter, checker adapter.PrereqChecker, errhub *hub.Hub[*blerr.Error], logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		adapter: radio,
		checker: checker,
		logger:  logger,
		state:   Idle{},
		devices: orderedmap.New[string, device.DiscoveredDevice](),
		states:  hub.New[State](logger),
		devhub:  hub.New[[]device.DiscoveredDevice](logger),
		errhub:  errhub,
	}
}

// State returns the current scan state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeStates registers an observer for scan state transitions.
// Transitions are published while the controller lock is held: a
// PolicyBlocking or PolicyRendezvous subscriber must drain promptly and must
// not call controller methods from the receiving goroutine.
func (c *Controller) SubscribeStates(policy hub.Policy, capacity int) *hub.Subscription[State] {
	return c.states.Subscribe(policy, capacity)
}

// SubscribeDevices registers an observer for discovered-device snapshots.
// A full snapshot is published after every upsert or batch.
func (c *Controller) SubscribeDevices(policy hub.Policy, capacity int) *hub.Subscription[[]device.DiscoveredDevice] {
	return c.devhub.Subscribe(policy, capacity)
}

// Devices returns the current devices in insertion order. Presentation
// layers sort by RSSI themselves when they need proximity ranking.
func (c *Controller) Devices() []device.DiscoveredDevice {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	return c.snapshotLocked()
}

// Start begins a scan session. Prerequisites are checked before the adapter
// is touched: feature support first, then permissions, then location
// services; the first failure wins. Cancelling ctx stops the scan and
// settles the state in Stopped.
func (c *Controller) Start(ctx context.Context, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}

	if err := c.checkPrerequisites(); err != nil {
		c.publishError(err)
		return err
	}

	c.mu.Lock()
	switch c.state.(type) {
	case Starting, Scanning:
		c.mu.Unlock()
		err := blerr.Classify(blerr.OpScanStart, blerr.ScanAlreadyStarted, blerr.Context{})
		c.publishError(err)
		return err
	}

	handle := c.adapter.OpenScanner()
	if handle == nil {
		c.mu.Unlock()
		err := blerr.Classify(blerr.OpScanStart, blerr.ScanRegistrationFailed, blerr.Context{})
		c.publishError(err)
		return err
	}

	c.clearDevicesAndPublish()
	c.setStateLocked(Starting{})

	if err := c.adapter.StartScan(handle, opts.Filters, opts.Settings, c); err != nil {
		classified := blerr.Wrap(blerr.OpScanStart, err, blerr.Context{})
		c.setStateLocked(Failed{Err: classified, CanRetry: classified.Retryable})
		c.mu.Unlock()
		c.publishError(classified)
		return classified
	}

	sess := &session{
		handle:  handle,
		stop:    make(chan struct{}),
		started: time.Now(),
	}
	c.session = sess
	c.setStateLocked(Scanning{Started: sess.started})
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"timeout": opts.Timeout,
	}).Info("Scan started")

	groutine.Go(ctx, "scan-watcher", func(ctx context.Context) {
		c.watch(ctx, sess, opts.Timeout)
	})
	return nil
}

// watch waits for the session to end by timeout or caller cancellation.
// An explicit Stop closes sess.stop first, so a stop racing a timeout always
// resolves as stopped, never timed out.
func (c *Controller) watch(ctx context.Context, sess *session, timeout time.Duration) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-sess.stop:
		return
	case <-ctx.Done():
		c.finish(sess, Stopped{})
	case <-timeoutC:
		c.logger.WithField("timeout", timeout).Info("Scan timeout elapsed")
		c.finish(sess, TimedOut{Elapsed: timeout})
	}
}

// finish ends the given session if it is still current, issuing the adapter
// stop exactly once and settling in final.
func (c *Controller) finish(sess *session, final State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return
	}
	c.session = nil

	if err := c.adapter.StopScan(sess.handle, c); err != nil {
		classified := blerr.Wrap(blerr.OpScanStop, err, blerr.Context{})
		c.setStateLocked(Failed{Err: classified, CanRetry: false})
		c.publishError(classified)
		return
	}
	c.setStateLocked(final)
}

// Stop ends the active scan, idempotently. Stopping when nothing is running
// settles the state in Stopped without error. A permission failure during
// stop is absorbed into a terminal Failed state rather than returned.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.session
	if sess == nil {
		// No active session: settle in Stopped, terminal states included.
		c.setStateLocked(Stopped{})
		return nil
	}

	// Invalidate the watcher before touching the adapter: stop wins over a
	// near-simultaneous timeout.
	close(sess.stop)
	c.session = nil

	if err := c.adapter.StopScan(sess.handle, c); err != nil {
		classified := blerr.Wrap(blerr.OpScanStop, err, blerr.Context{})
		c.setStateLocked(Failed{Err: classified, CanRetry: false})
		c.publishError(classified)
		return nil
	}

	c.logger.Info("Scan stopped")
	c.setStateLocked(Stopped{})
	return nil
}

// Clear empties the discovered-device registry and publishes an empty
// snapshot. The scan state is not affected.
func (c *Controller) Clear() {
	c.clearDevicesAndPublish()
}

// OnDeviceFound implements adapter.ScanEvents.
func (c *Controller) OnDeviceFound(dev device.DiscoveredDevice) {
	c.upsert(dev)
	c.publishDevices()
}

// OnBatch implements adapter.ScanEvents. The snapshot is published once per
// batch, not per item.
func (c *Controller) OnBatch(devs []device.DiscoveredDevice) {
	for _, dev := range devs {
		c.upsert(dev)
	}
	c.publishDevices()
}

// OnScanFailed implements adapter.ScanEvents.
func (c *Controller) OnScanFailed(code int) {
	classified := blerr.Classify(blerr.OpScanStart, code, blerr.Context{})

	c.mu.Lock()
	if sess := c.session; sess != nil {
		close(sess.stop)
		c.session = nil
	}
	c.setStateLocked(Failed{Err: classified, CanRetry: classified.Retryable})
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"code":  code,
		"retry": classified.Retryable,
	}).Error("Scan failed")
	c.publishError(classified)
}

// checkPrerequisites validates support, permissions and location in that
// order, returning the first failure.
func (c *Controller) checkPrerequisites() *blerr.Error {
	if !c.checker.IsFeatureSupported() {
		return blerr.Unsupported(blerr.OpScanStart)
	}
	if !c.checker.HasRequiredPermissions() {
		return blerr.PermissionDenied(blerr.OpScanStart, c.checker.MissingPermissions())
	}
	if !c.checker.IsLocationEnabled() {
		return blerr.LocationDisabled(blerr.OpScanStart)
	}
	return nil
}

// upsert applies a sighting to the registry. Existing entries keep their
// insertion position; RSSI, payload and timestamp are last-write-wins.
func (c *Controller) upsert(dev device.DiscoveredDevice) {
	c.devMu.Lock()
	defer c.devMu.Unlock()

	if existing, ok := c.devices.Get(dev.Address); ok {
		if dev.Name == "" {
			dev.Name = existing.Name
		}
		c.logger.WithFields(logrus.Fields{
			"device": dev.DisplayName(),
			"rssi":   dev.RSSI,
		}).Debug("Updated device")
	} else {
		c.logger.WithFields(logrus.Fields{
			"device":  dev.DisplayName(),
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
	}
	c.devices.Set(dev.Address, dev)
}

func (c *Controller) snapshotLocked() []device.DiscoveredDevice {
	devs := make([]device.DiscoveredDevice, 0, c.devices.Len())
	for pair := c.devices.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, pair.Value)
	}
	return devs
}

func (c *Controller) publishDevices() {
	c.devMu.RLock()
	snapshot := c.snapshotLocked()
	c.devMu.RUnlock()
	c.devhub.Publish(snapshot)
}

func (c *Controller) clearDevicesAndPublish() {
	c.devMu.Lock()
	c.devices = orderedmap.New[string, device.DiscoveredDevice]()
	c.devMu.Unlock()
	c.devhub.Publish(nil)
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
