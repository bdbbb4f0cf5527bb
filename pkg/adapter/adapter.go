// Package adapter defines the contracts the controllers consume: the radio
// adapter that owns the platform's scanning and connection primitives, and
// the prerequisite checker for permissions and services. Implementations
// live elsewhere (internal/goble for production, internal/testutils for
// tests); the controllers never reach for ambient globals.
package adapter

import (
	"time"

	"github.com/ssk18/BleFlux/pkg/device"
)

// ScannerHandle is the adapter's opaque token for an open scanner.
type ScannerHandle interface{}

// ConnectionHandle is the adapter's opaque token for an open connection.
type ConnectionHandle interface{}

// ScanFilters restricts which advertisements the adapter reports.
type ScanFilters struct {
	ServiceUUIDs []string
	AllowList    []string // only these addresses, when non-empty
	BlockList    []string
}

// ScanSettings tunes the adapter-side scan behavior.
type ScanSettings struct {
	AllowDuplicates bool
	Interval        time.Duration // 0 = adapter default
}

// ScanEvents receives asynchronous scan callbacks from the adapter. Calls
// arrive on the adapter's callback context, not the caller's goroutine.
type ScanEvents interface {
	// OnDeviceFound delivers a single advertisement report.
	OnDeviceFound(dev device.DiscoveredDevice)
	// OnBatch delivers several buffered reports at once.
	OnBatch(devs []device.DiscoveredDevice)
	// OnScanFailed reports a scan start failure with a raw status code.
	OnScanFailed(code int)
}

// ConnEvents receives asynchronous connection callbacks from the adapter.
type ConnEvents interface {
	// OnConnectionStateChange reports a link transition. connected=false with
	// a non-success status is a failure or an unexpected link loss.
	OnConnectionStateChange(address string, connected bool, status int)
	// OnRSSI delivers the result of a ReadSignalStrength request.
	OnRSSI(address string, rssi int, status int)
}

// RadioAdapter is the opaque platform radio provider.
type RadioAdapter interface {
	// IsSupported reports whether the platform radio is present and usable.
	IsSupported() bool

	// OpenScanner acquires a scanner handle, nil when the radio cannot
	// provide one (powered off, claimed by another client).
	OpenScanner() ScannerHandle

	// StartScan begins discovery, reporting results to events. May return a
	// permission error synchronously.
	StartScan(h ScannerHandle, filters ScanFilters, settings ScanSettings, events ScanEvents) error

	// StopScan ends discovery. May return a permission error synchronously.
	StopScan(h ScannerHandle, events ScanEvents) error

	// OpenConnection starts an asynchronous connection attempt; the outcome
	// arrives via events. Returns nil when the attempt could not even start.
	OpenConnection(p device.Peripheral, autoReconnect bool, events ConnEvents) ConnectionHandle

	// CloseConnection releases the handle's resources. Idempotent.
	CloseConnection(h ConnectionHandle)

	// DisconnectConnection requests an orderly teardown; confirmation arrives
	// via the events registered at OpenConnection.
	DisconnectConnection(h ConnectionHandle)

	// ReadSignalStrength requests an RSSI read. The return value only says
	// whether the request was issued; the reading arrives via OnRSSI.
	ReadSignalStrength(h ConnectionHandle) bool
}

// PrereqChecker reports whether the platform authorizations needed for
// scanning and connecting are in place.
type PrereqChecker interface {
	IsFeatureSupported() bool
	HasRequiredPermissions() bool
	MissingPermissions() []string
	IsLocationEnabled() bool
}

// StaticChecker is a PrereqChecker with fixed answers. Desktop platforms
// that gate nothing use AllGranted; tests use it to force specific denials.
type StaticChecker struct {
	FeatureSupported bool
	Permissions      bool
	Missing          []string
	LocationEnabled  bool
}

// AllGranted returns a checker that approves everything.
func AllGranted() *StaticChecker {
	return &StaticChecker{FeatureSupported: true, Permissions: true, LocationEnabled: true}
}

func (c *StaticChecker) IsFeatureSupported() bool     { return c.FeatureSupported }
func (c *StaticChecker) HasRequiredPermissions() bool { return c.Permissions }
func (c *StaticChecker) MissingPermissions() []string { return c.Missing }
func (c *StaticChecker) IsLocationEnabled() bool      { return c.LocationEnabled }
