// Package testutils provides the mock radio adapter and builders shared by
// controller tests.
package testutils

import (
	"sync"
	"time"

	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/blerr"
	"github.com/ssk18/BleFlux/pkg/device"
)

// mockScannerHandle is the opaque token handed out by the mock.
type mockScannerHandle struct{}

type mockConnHandle struct {
	address string
}

// MockAdapter is a scriptable adapter.RadioAdapter. Tests configure the
// synchronous behavior up front and fire asynchronous callbacks explicitly
// through the Fire* helpers, or let AutoConfirm* drive the happy path.
type MockAdapter struct {
	mu sync.Mutex

	Supported           bool
	ScannerAvailable    bool
	StartScanErr        error
	StopScanErr         error
	ConnectionAvailable bool
	RSSIIssueOK         bool

	// AutoConfirmConnect fires a clean connected callback right after
	// OpenConnection; AutoConfirmDisconnect does the same for
	// DisconnectConnection.
	AutoConfirmConnect    bool
	AutoConfirmDisconnect bool

	scanEvents adapter.ScanEvents
	connEvents adapter.ConnEvents

	startScanCalls  int
	stopScanCalls   int
	openConnCalls   int
	closeConnCalls  int
	disconnectCalls int
	rssiCalls       int
}

// NewMockAdapter returns a mock with everything available and auto-confirm
// disabled.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		Supported:           true,
		ScannerAvailable:    true,
		ConnectionAvailable: true,
		RSSIIssueOK:         true,
	}
}

func (m *MockAdapter) IsSupported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Supported
}

func (m *MockAdapter) OpenScanner() adapter.ScannerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ScannerAvailable {
		return nil
	}
	return &mockScannerHandle{}
}

func (m *MockAdapter) StartScan(_ adapter.ScannerHandle, _ adapter.ScanFilters, _ adapter.ScanSettings, events adapter.ScanEvents) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startScanCalls++
	if m.StartScanErr != nil {
		return m.StartScanErr
	}
	m.scanEvents = events
	return nil
}

func (m *MockAdapter) StopScan(_ adapter.ScannerHandle, _ adapter.ScanEvents) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopScanCalls++
	return m.StopScanErr
}

func (m *MockAdapter) OpenConnection(p device.Peripheral, _ bool, events adapter.ConnEvents) adapter.ConnectionHandle {
	m.mu.Lock()
	if !m.ConnectionAvailable {
		m.mu.Unlock()
		return nil
	}
	m.openConnCalls++
	m.connEvents = events
	autoConfirm := m.AutoConfirmConnect
	m.mu.Unlock()

	if autoConfirm {
		go events.OnConnectionStateChange(p.Address(), true, blerr.CodeSuccess)
	}
	return &mockConnHandle{address: p.Address()}
}

func (m *MockAdapter) CloseConnection(_ adapter.ConnectionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeConnCalls++
}

func (m *MockAdapter) DisconnectConnection(h adapter.ConnectionHandle) {
	m.mu.Lock()
	m.disconnectCalls++
	events := m.connEvents
	autoConfirm := m.AutoConfirmDisconnect
	m.mu.Unlock()

	if autoConfirm && events != nil {
		mh, _ := h.(*mockConnHandle)
		go events.OnConnectionStateChange(mh.address, false, blerr.CodeSuccess)
	}
}

func (m *MockAdapter) ReadSignalStrength(_ adapter.ConnectionHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rssiCalls++
	return m.RSSIIssueOK
}

// FireDeviceFound delivers a discovery callback as the adapter would.
func (m *MockAdapter) FireDeviceFound(dev device.DiscoveredDevice) {
	if ev := m.ScanEvents(); ev != nil {
		ev.OnDeviceFound(dev)
	}
}

// FireBatch delivers a batch discovery callback.
func (m *MockAdapter) FireBatch(devs []device.DiscoveredDevice) {
	if ev := m.ScanEvents(); ev != nil {
		ev.OnBatch(devs)
	}
}

// FireScanFailed delivers a scan failure callback.
func (m *MockAdapter) FireScanFailed(code int) {
	if ev := m.ScanEvents(); ev != nil {
		ev.OnScanFailed(code)
	}
}

// FireConnectionStateChange delivers a link transition callback.
func (m *MockAdapter) FireConnectionStateChange(address string, connected bool, status int) {
	if ev := m.ConnEvents(); ev != nil {
		ev.OnConnectionStateChange(address, connected, status)
	}
}

// FireRSSI delivers an RSSI read result callback.
func (m *MockAdapter) FireRSSI(address string, rssi, status int) {
	if ev := m.ConnEvents(); ev != nil {
		ev.OnRSSI(address, rssi, status)
	}
}

// ScanEvents returns the callback sink registered by the last StartScan.
func (m *MockAdapter) ScanEvents() adapter.ScanEvents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanEvents
}

// ConnEvents returns the callback sink registered by the last OpenConnection.
func (m *MockAdapter) ConnEvents() adapter.ConnEvents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connEvents
}

func (m *MockAdapter) StartScanCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startScanCalls
}

func (m *MockAdapter) StopScanCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopScanCalls
}

func (m *MockAdapter) OpenConnectionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openConnCalls
}

func (m *MockAdapter) CloseConnectionCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeConnCalls
}

func (m *MockAdapter) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

func (m *MockAdapter) RSSICalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rssiCalls
}

// DeviceBuilder constructs DiscoveredDevice fixtures.
type DeviceBuilder struct {
	dev device.DiscoveredDevice
}

// NewDeviceBuilder starts a builder with a timestamp of now.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{dev: device.DiscoveredDevice{LastSeen: time.Now()}}
}

func (b *DeviceBuilder) WithAddress(addr string) *DeviceBuilder {
	b.dev.Address = addr
	return b
}

func (b *DeviceBuilder) WithName(name string) *DeviceBuilder {
	b.dev.Name = name
	return b
}

func (b *DeviceBuilder) WithRSSI(rssi int) *DeviceBuilder {
	b.dev.RSSI = rssi
	return b
}

func (b *DeviceBuilder) WithConnectable(c bool) *DeviceBuilder {
	b.dev.Connectable = c
	return b
}

func (b *DeviceBuilder) WithServices(uuids ...string) *DeviceBuilder {
	b.dev.Services = uuids
	return b
}

func (b *DeviceBuilder) WithLastSeen(t time.Time) *DeviceBuilder {
	b.dev.LastSeen = t
	return b
}

func (b *DeviceBuilder) Build() device.DiscoveredDevice {
	return b.dev
}
