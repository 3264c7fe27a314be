//go:build !linux

package ble

// probeRadio is a no-op off Linux; the platform stack reports a missing
// radio from Enable.
func probeRadio() error {
	return nil
}
