package goble

import (
	"github.com/go-ble/ble"

	"github.com/ssk18/BleFlux/pkg/adapter"
	"github.com/ssk18/BleFlux/pkg/device"
)

// bleAdvertisement adapts a go-ble advertisement to device.Advertisement.
type bleAdvertisement struct {
	adv ble.Advertisement
}

func wrapAdvertisement(adv ble.Advertisement) device.Advertisement {
	return bleAdvertisement{adv: adv}
}

func (a bleAdvertisement) Address() string   { return a.adv.Addr().String() }
func (a bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a bleAdvertisement) RSSI() int         { return a.adv.RSSI() }

func (a bleAdvertisement) TxPowerLevel() *int {
	tx := a.adv.TxPowerLevel()
	return &tx
}

func (a bleAdvertisement) Connectable() bool { return a.adv.Connectable() }

func (a bleAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a bleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	svcs := make([]string, 0, len(uuids))
	for _, u := range uuids {
		svcs = append(svcs, u.String())
	}
	return svcs
}

// includeAdvertisement applies allow/block/service filters, in the same
// order the scanner always has: block list, allow list, then services.
func includeAdvertisement(adv ble.Advertisement, filters adapter.ScanFilters) bool {
	addr := adv.Addr().String()

	for _, blocked := range filters.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(filters.AllowList) > 0 {
		allowed := false
		for _, a := range filters.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(filters.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range filters.ServiceUUIDs {
			requiredUUID, err := ble.Parse(required)
			if err != nil {
				continue
			}
			for _, advUUID := range adv.Services() {
				if requiredUUID.Equal(advUUID) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	return true
}
