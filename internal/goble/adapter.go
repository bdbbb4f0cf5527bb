// Package goble implements the radio adapter contract on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/ssk18/BleFlux/internal/groutine"
	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		if strings.Contains(err.Error(), "central manager has invalid state") {
			return nil, fmt.Errorf("Bluetooth is not ready - %w", err)
		}
		return nil, err
	}
	return dev, nil
}

// Adapter is the go-ble backed adapter.RadioAdapter.
type Adapter struct {
	logger *logrus.Logger

	initOnce sync.Once
	dev      ble.Device
	initErr  error
}

// New creates the adapter. The underlying ble.Device is created lazily on
// first use.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) device() (ble.Device, error) {
	a.initOnce.Do(func() {
		a.dev, a.initErr = DeviceFactory()
		if a.initErr != nil {
			a.logger.WithError(a.initErr).Error("Failed to create BLE device")
		}
	})
	return a.dev, a.initErr
}

// IsSupported implements adapter.RadioAdapter.
func (a *Adapter) IsSupported() bool {
	_, err := a.device()
	return err == nil
}

type scannerHandle struct {
	dev    ble.Device
	mu     sync.Mutex
	cancel context.CancelFunc
}

// OpenScanner implements adapter.RadioAdapter.
func (a *Adapter) OpenScanner() adapter.ScannerHandle {
	dev, err := a.device()
	if err != nil {
		return nil
	}
	return &scannerHandle{dev: dev}
}

// StartScan implements adapter.RadioAdapter. Discovery runs on its own
// goroutine; reports are filtered and forwarded to events.
func (a *Adapter) StartScan(h adapter.ScannerHandle, filters adapter.ScanFilters, settings adapter.ScanSettings, events adapter.ScanEvents) error {
	sh, ok := h.(*scannerHandle)
	if !ok || sh == nil {
		return fmt.Errorf("invalid scanner handle")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sh.mu.Lock()
	if sh.cancel != nil {
		sh.mu.Unlock()
		cancel()
		return fmt.Errorf("scan already running on this handle")
	}
	sh.cancel = cancel
	sh.mu.Unlock()

	handler := func(adv ble.Advertisement) {
		if !includeAdvertisement(adv, filters) {
			return
		}
		events.OnDeviceFound(device.FromAdvertisement(wrapAdvertisement(adv)))
	}

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := sh.dev.Scan(ctx, settings.AllowDuplicates, handler)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.WithError(err).Error("Scan terminated with error")
			events.OnScanFailed(blerr.ScanInternalError)
		}
	})
	return nil
}

// StopScan implements adapter.RadioAdapter.
func (a *Adapter) StopScan(h adapter.ScannerHandle, _ adapter.ScanEvents) error {
	sh, ok := h.(*scannerHandle)
	if !ok || sh == nil {
		return fmt.Errorf("invalid scanner handle")
	}
	sh.mu.Lock()
	cancel := sh.cancel
	sh.cancel = nil
	sh.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

type connHandle struct {
	addr   string
	events adapter.ConnEvents
	cancel context.CancelFunc

	mu            sync.Mutex
	client        ble.Client
	disconnecting atomic.Bool
	closed        atomic.Bool
}

func (h *connHandle) setClient(c ble.Client) {
	h.mu.Lock()
	h.client = c
	h.mu.Unlock()
}

func (h *connHandle) getClient() ble.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

// OpenConnection implements adapter.RadioAdapter. The dial runs
// asynchronously; the outcome and later link transitions arrive via events.
func (a *Adapter) OpenConnection(p device.Peripheral, _ bool, events adapter.ConnEvents) adapter.ConnectionHandle {
	dev, err := a.device()
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &connHandle{addr: p.Address(), events: events, cancel: cancel}

	groutine.Go(ctx, "goble-dial", func(ctx context.Context) {
		client, err := dev.Dial(ctx, ble.NewAddr(h.addr))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logger.WithError(err).WithField("address", h.addr).Warn("Dial failed")
			events.OnConnectionStateChange(h.addr, false, blerr.CodeFailedToEstablish)
			return
		}
		h.setClient(client)
		events.OnConnectionStateChange(h.addr, true, blerr.CodeSuccess)

		select {
		case <-client.Disconnected():
			status := blerr.CodeConnTimeout
			if h.disconnecting.Load() {
				status = blerr.CodeSuccess
			}
			events.OnConnectionStateChange(h.addr, false, status)
		case <-ctx.Done():
		}
	})
	return h
}

// DisconnectConnection implements adapter.RadioAdapter. Confirmation arrives
// through the handle's Disconnected watch as a clean state change.
func (a *Adapter) DisconnectConnection(handle adapter.ConnectionHandle) {
	h, ok := handle.(*connHandle)
	if !ok || h == nil {
		return
	}
	h.disconnecting.Store(true)
	if client := h.getClient(); client != nil {
		if err := client.CancelConnection(); err != nil {
			a.logger.WithError(err).WithField("address", h.addr).Warn("Error disconnecting from device")
		}
	}
}

// CloseConnection implements adapter.RadioAdapter. Idempotent.
func (a *Adapter) CloseConnection(handle adapter.ConnectionHandle) {
	h, ok := handle.(*connHandle)
	if !ok || h == nil {
		return
	}
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.disconnecting.Store(true)
	h.cancel()
	if client := h.getClient(); client != nil {
		_ = client.CancelConnection()
		h.setClient(nil)
	}
}

// ReadSignalStrength implements adapter.RadioAdapter. go-ble's ReadRSSI is
// synchronous, so the read runs on a goroutine and reports via OnRSSI.
func (a *Adapter) ReadSignalStrength(handle adapter.ConnectionHandle) bool {
	h, ok := handle.(*connHandle)
	if !ok || h == nil {
		return false
	}
	client := h.getClient()
	if client == nil {
		return false
	}
	groutine.Go(context.Background(), "goble-rssi", func(ctx context.Context) {
		rssi := client.ReadRSSI()
		h.events.OnRSSI(h.addr, rssi, blerr.CodeSuccess)
	})
	return true
}

// Checker is the desktop prerequisite checker: feature support mirrors the
// radio state, permission and location gates do not exist on this platform.
type Checker struct {
	adapter *Adapter
}

// NewChecker creates a checker bound to the adapter.
func NewChecker(a *Adapter) *Checker {
	return &Checker{adapter: a}
}

func (c *Checker) IsFeatureSupported() bool     { return c.adapter.IsSupported() }
func (c *Checker) HasRequiredPermissions() bool { return true }
func (c *Checker) MissingPermissions() []string { return nil }
func (c *Checker) IsLocationEnabled() bool      { return true }
