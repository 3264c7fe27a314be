// Package ble provides the BLE provisioning engine for NETCFG peripherals:
// discovery, connection management, and the Wi-Fi credential handshake.
// Hardware access goes through the Adapter interface so the engine can be
// driven by a mock in tests.
package ble

import "context"

// Properties is the GATT characteristic property bit set.
type Properties uint8

const (
	PropRead                 Properties = 0x02
	PropWriteWithoutResponse Properties = 0x04
	PropWrite                Properties = 0x08
	PropNotify               Properties = 0x10
	PropIndicate             Properties = 0x20
)

// Has reports whether all bits in want are set.
func (p Properties) Has(want Properties) bool {
	return p&want == want
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID in canonical string form.
	UUID() string
	// Properties returns the advertised property bits, or 0 if the
	// platform does not report them.
	Properties() Properties
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Advertisement is one advertisement report seen during a scan.
type Advertisement struct {
	Address          string
	Name             string
	RSSI             *int     // nil when the platform did not report signal strength
	ManufacturerData [][]byte // raw manufacturer-specific data elements
	ServiceData      [][]byte // raw service data elements, UUIDs stripped
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristics lists the characteristics of a service.
	DiscoverCharacteristics(serviceUUID string) ([]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to onReport until ctx is done.
	// It must return promptly once ctx is cancelled.
	Scan(ctx context.Context, onReport func(Advertisement)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
