package device

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// TxPowerUnavailable is reported by advertisements that carry no TX power level.
const TxPowerUnavailable = 127

// PeripheralInfo is a point-in-time snapshot of a discovered peripheral.
type PeripheralInfo struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Address          string            `json:"address"`
	RSSI             int               `json:"rssi"`
	TxPower          *int              `json:"tx_power,omitempty"`
	Connectable      bool              `json:"connectable"`
	Services         []string          `json:"services"`
	ManufacturerData []byte            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string][]byte `json:"service_data,omitempty"`
	FirstSeen        time.Time         `json:"first_seen"`
	LastSeen         time.Time         `json:"last_seen"`
}

// DisplayName returns the advertised name or the address when the peripheral is anonymous.
func (p PeripheralInfo) DisplayName() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name
}

// HasService reports whether the peripheral advertised the given service UUID.
func (p PeripheralInfo) HasService(uuid string) bool {
	n := NormalizeUUID(uuid)
	for _, s := range p.Services {
		if s == n {
			return true
		}
	}
	return false
}

// Peripheral accumulates advertisements from a single peripheral. Safe for concurrent use.
type Peripheral struct {
	mu   sync.RWMutex
	info PeripheralInfo
}

// NewPeripheral creates a Peripheral from its first advertisement.
func NewPeripheral(adv Advertisement) *Peripheral {
	now := time.Now()
	p := &Peripheral{
		info: PeripheralInfo{
			ID:          adv.Addr(),
			Address:     adv.Addr(),
			Services:    make([]string, 0),
			ServiceData: make(map[string][]byte),
			FirstSeen:   now,
		},
	}
	p.apply(adv, now)
	return p
}

// Update refreshes peripheral information from a new advertisement
func (p *Peripheral) Update(adv Advertisement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(adv, time.Now())
}

// Info returns a deep copy of the current state.
func (p *Peripheral) Info() PeripheralInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info := p.info
	info.Services = append([]string(nil), p.info.Services...)
	if p.info.ManufacturerData != nil {
		info.ManufacturerData = append([]byte(nil), p.info.ManufacturerData...)
	}
	info.ServiceData = make(map[string][]byte, len(p.info.ServiceData))
	for k, v := range p.info.ServiceData {
		info.ServiceData[k] = append([]byte(nil), v...)
	}
	if p.info.TxPower != nil {
		tx := *p.info.TxPower
		info.TxPower = &tx
	}
	return info
}

// apply must be called with mu held (or before the peripheral is shared).
func (p *Peripheral) apply(adv Advertisement, now time.Time) {
	p.info.RSSI = adv.RSSI()
	p.info.Connectable = adv.Connectable()
	p.info.LastSeen = now

	if name := adv.LocalName(); name != "" {
		p.info.Name = name
	} else if p.info.Name == "" {
		p.info.Name = extractNameFromManufacturerData(adv.ManufacturerData())
	}

	if manufData := adv.ManufacturerData(); len(manufData) > 0 {
		p.info.ManufacturerData = manufData
	}

	needsSort := false
	for _, svc := range adv.Services() {
		n := NormalizeUUID(svc)
		if !p.info.HasService(n) {
			p.info.Services = append(p.info.Services, n)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(p.info.Services)
	}

	for _, sd := range adv.ServiceData() {
		p.info.ServiceData[NormalizeUUID(sd.UUID)] = sd.Data
	}

	if tx := adv.TxPowerLevel(); tx != TxPowerUnavailable {
		p.info.TxPower = &tx
	}
}

// extractNameFromManufacturerData looks for an embedded printable ASCII name.
// Some glove firmware builds put the product name in manufacturer data instead of the local name.
func extractNameFromManufacturerData(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	for i := 0; i < len(data)-3; i++ {
		if !isReadableASCII(data[i]) {
			continue
		}
		var nameBytes []byte
		for j := i; j < len(data) && j < i+32; j++ {
			if !isReadableASCII(data[j]) {
				break
			}
			nameBytes = append(nameBytes, data[j])
		}
		if name := strings.TrimSpace(string(nameBytes)); isValidDeviceName(name) {
			return name
		}
	}
	return ""
}

func isReadableASCII(b byte) bool {
	return b >= 32 && b <= 126
}

func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
