// Package device holds the data model shared by the scan and connection
// controllers: discovered devices and the peripheral handle passed to
// connect operations.
package device

import (
	"fmt"
	"time"
)

// Advertisement is the read-only view of a single advertisement report
// delivered by the radio adapter.
type Advertisement interface {
	Address() string
	LocalName() string
	RSSI() int
	TxPowerLevel() *int
	Connectable() bool
	ManufacturerData() []byte
	Services() []string
}

// DiscoveredDevice is one entry in the scan registry, keyed by address.
// Repeated sightings update RSSI, payload and LastSeen in place.
type DiscoveredDevice struct {
	Address          string
	Name             string
	RSSI             int
	TxPower          *int
	Connectable      bool
	RawAdvertisement []byte
	Services         []string
	LastSeen         time.Time
}

// FromAdvertisement builds a DiscoveredDevice snapshot from an advertisement
// report, stamped with the current time.
func FromAdvertisement(adv Advertisement) DiscoveredDevice {
	return DiscoveredDevice{
		Address:          adv.Address(),
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		TxPower:          adv.TxPowerLevel(),
		Connectable:      adv.Connectable(),
		RawAdvertisement: adv.ManufacturerData(),
		Services:         adv.Services(),
		LastSeen:         time.Now(),
	}
}

// DisplayName returns the advertised name or the address when the device is
// anonymous.
func (d DiscoveredDevice) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Address
}

// IsExpired reports whether the device has not been seen within timeout.
func (d DiscoveredDevice) IsExpired(timeout time.Duration) bool {
	return time.Since(d.LastSeen) > timeout
}

// Peripheral identifies the target of a connect operation. Immutable once
// constructed.
type Peripheral struct {
	address string
	name    string
	rssi    *int
}

// NewPeripheral creates a peripheral handle for the given address.
func NewPeripheral(address string) Peripheral {
	return Peripheral{address: address}
}

// NewPeripheralFromDevice creates a peripheral handle carrying the cached
// name and signal strength of a discovered device.
func NewPeripheralFromDevice(d DiscoveredDevice) Peripheral {
	rssi := d.RSSI
	return Peripheral{address: d.Address, name: d.Name, rssi: &rssi}
}

// Address returns the stable device address.
func (p Peripheral) Address() string { return p.address }

// Name returns the cached advertised name, empty if unknown.
func (p Peripheral) Name() string { return p.name }

// CachedRSSI returns the signal strength observed at discovery time, nil if
// unknown.
func (p Peripheral) CachedRSSI() *int { return p.rssi }

func (p Peripheral) String() string {
	if p.name != "" {
		return fmt.Sprintf("%s (%s)", p.name, p.address)
	}
	return p.address
}
