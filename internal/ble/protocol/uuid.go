package protocol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Default NETCFG GATT profile.
const (
	ServiceUUID    = "0000e402-0000-1000-8000-00805f9b34fb"
	WriteCharUUID  = "0000e403-0000-1000-8000-00805f9b34fb"
	StatusCharUUID = "0000e404-0000-1000-8000-00805f9b34fb"
)

// baseUUIDSuffix is the Bluetooth base UUID without its 32-bit prefix.
const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// ParseUUID parses a GATT UUID. Besides the canonical 128-bit forms accepted
// by uuid.Parse it takes 16-bit ("e403", "0xE403") and 32-bit short forms and
// expands them against the Bluetooth base UUID.
func ParseUUID(s string) (uuid.UUID, error) {
	short := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	switch len(short) {
	case 4:
		short = "0000" + short
		fallthrough
	case 8:
		s = short + baseUUIDSuffix
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("protocol: parse uuid %q: %w", s, err)
	}
	return u, nil
}

// SameUUID reports whether a and b name the same GATT UUID. Unparseable
// values never match.
func SameUUID(a, b string) bool {
	ua, err := ParseUUID(a)
	if err != nil {
		return false
	}
	ub, err := ParseUUID(b)
	if err != nil {
		return false
	}
	return ua == ub
}
