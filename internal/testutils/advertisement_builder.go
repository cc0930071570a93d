package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a testify mock implementing device.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) ServiceData() []device.ServiceData {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]device.ServiceData)
	}
	return nil
}

func (m *MockAdvertisement) Services() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

func (m *MockAdvertisement) TxPowerLevel() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() string {
	return m.Called().String(0)
}

// AdvertisementBuilder builds mocked advertisements for testing.
// Unset fields report what a real stack reports when the AD element is absent.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     int
	connectable bool
}

// NewAdvertisementBuilder creates a builder with connectable=true and no TX power.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		rssi:        -50,
		serviceData: make(map[string][]byte),
		txPower:     device.TxPowerUnavailable,
		connectable: true,
	}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs, short ("180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = power
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		TxPower          *int              `json:"txPower"`
		Connectable      *bool             `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	b.services = append(b.services, data.Services...)
	if data.ManufacturerData != nil {
		b.manufData = data.ManufacturerData
	}
	for k, v := range data.ServiceData {
		b.serviceData[k] = v
	}
	if data.TxPower != nil {
		b.txPower = *data.TxPower
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	return b
}

// Build creates a MockAdvertisement. Every accessor is stubbed with Maybe() so
// consumers may read any subset of fields any number of times.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}

	keys := make([]string, 0, len(b.serviceData))
	for k := range b.serviceData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var serviceData []device.ServiceData
	for _, k := range keys {
		serviceData = append(serviceData, device.ServiceData{UUID: k, Data: b.serviceData[k]})
	}

	adv.On("Addr").Return(b.address).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("ServiceData").Return(serviceData).Maybe()
	adv.On("Services").Return(append([]string(nil), b.services...)).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("TxPowerLevel").Return(b.txPower).Maybe()

	return adv
}

// AdvertisementArrayBuilder collects advertisements for a scan.
//
//	ads := NewAdvertisementArrayBuilder().
//	    WithAdvertisements(ad1, ad2).
//	    WithBuilders(NewAdvertisementBuilder().WithName("FeltSight BLE").WithAddress("AA:BB:CC:DD:EE:FF")).
//	    Build()
type AdvertisementArrayBuilder struct {
	advertisements []device.Advertisement
}

func NewAdvertisementArrayBuilder() *AdvertisementArrayBuilder {
	return &AdvertisementArrayBuilder{advertisements: make([]device.Advertisement, 0)}
}

// WithAdvertisements appends pre-built advertisements.
func (ab *AdvertisementArrayBuilder) WithAdvertisements(ads ...device.Advertisement) *AdvertisementArrayBuilder {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithBuilders builds and appends one advertisement per builder.
func (ab *AdvertisementArrayBuilder) WithBuilders(builders ...*AdvertisementBuilder) *AdvertisementArrayBuilder {
	for _, b := range builders {
		ab.advertisements = append(ab.advertisements, b.Build())
	}
	return ab
}

func (ab *AdvertisementArrayBuilder) Build() []device.Advertisement {
	return append([]device.Advertisement(nil), ab.advertisements...)
}
