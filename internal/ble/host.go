package ble

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/blenetcfg/internal/ble/protocol"
)

// HostAdapter wraps tinygo-org/bluetooth for the host's Bluetooth stack
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
// On macOS, device addresses are CoreBluetooth UUIDs, not MAC addresses.
type HostAdapter struct {
	adapter *bluetooth.Adapter

	enableMu sync.Mutex
	enabled  bool

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*hostConnection // keyed by device address
}

// NewHostAdapter creates a BLE adapter on the default host radio.
func NewHostAdapter() *HostAdapter {
	return &HostAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*hostConnection),
	}
}

// Enable powers on the adapter. Repeated calls after a success are no-ops.
func (a *HostAdapter) Enable() error {
	a.enableMu.Lock()
	defer a.enableMu.Unlock()
	if a.enabled {
		return nil
	}

	if err := probeRadio(); err != nil {
		return err
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports peripheral-side disconnects through the
	// adapter-level connect handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	a.enabled = true
	return nil
}

func (a *HostAdapter) Scan(ctx context.Context, onReport func(Advertisement)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		rssi := int(result.RSSI)
		adv := Advertisement{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    &rssi,
		}
		for _, md := range result.ManufacturerData() {
			adv.ManufacturerData = append(adv.ManufacturerData, md.Data)
		}
		for _, sd := range result.ServiceData() {
			adv.ServiceData = append(adv.ServiceData, sd.Data)
		}
		onReport(adv)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *HostAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect cannot be cancelled; drop a late success.
		go func() {
			if result := <-ch; result.err == nil {
				_ = result.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", address, result.err)
		}
		conn := &hostConnection{device: &result.device}

		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that HostAdapter implements Adapter.
var _ Adapter = (*HostAdapter)(nil)

type hostConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

// DiscoverCharacteristics returns an empty list, not an error, when the
// service is absent so the caller can report the missing characteristic.
func (c *hostConnection) DiscoverCharacteristics(serviceUUID string) ([]Characteristic, error) {
	canonical, err := protocol.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: %w", err)
	}
	svcUUID, err := bluetooth.ParseUUID(canonical.String())
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(svcs) == 0 {
		// Some stacks report a filtered-out service as an error.
		return nil, nil
	}

	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	out := make([]Characteristic, 0, len(chars))
	for i := range chars {
		out = append(out, &hostCharacteristic{char: &chars[i]})
	}
	return out, nil
}

func (c *hostConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *hostConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *hostConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type hostCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *hostCharacteristic) UUID() string {
	return c.char.UUID().String()
}

// Properties is not exposed uniformly by tinygo/bluetooth; report unknown.
func (c *hostCharacteristic) Properties() Properties {
	return 0
}

func (c *hostCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *hostCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// the stack may reuse buf after we return
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
