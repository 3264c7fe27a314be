//go:build linux

package ble

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapterPath  = "/org/bluez/hci0"
	bluezAdapterIface = "org.bluez.Adapter1"
	dbusPropsIface    = "org.freedesktop.DBus.Properties"
)

// probeRadio checks that BlueZ is on the system bus and that hci0 is
// powered, so a missing radio surfaces as ErrAdapterUnavailable instead of an
// opaque D-Bus error from deep inside the stack.
func probeRadio() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("%w: connect to system bus: %v", ErrAdapterUnavailable, err)
	}
	defer conn.Close()

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("%w: list bus names: %v", ErrAdapterUnavailable, err)
	}
	if !containsName(names, bluezBus) {
		return fmt.Errorf("%w: %s not found on system bus, is bluetooth.service running?", ErrAdapterUnavailable, bluezBus)
	}

	var powered dbus.Variant
	obj := conn.Object(bluezBus, dbus.ObjectPath(bluezAdapterPath))
	if err := obj.Call(dbusPropsIface+".Get", 0, bluezAdapterIface, "Powered").Store(&powered); err != nil {
		return fmt.Errorf("%w: no adapter at %s: %v", ErrAdapterUnavailable, bluezAdapterPath, err)
	}
	if on, ok := powered.Value().(bool); ok && !on {
		return fmt.Errorf("%w: %s is powered off", ErrAdapterUnavailable, bluezAdapterPath)
	}
	return nil
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
