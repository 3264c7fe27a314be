// Package protocol implements the NETCFG BLE wire format: status notification
// decoding, command framing and GATT UUID handling.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrMalformedNotification is returned for a status frame shorter than two bytes.
var ErrMalformedNotification = errors.New("protocol: malformed notification")

// Class is the fixed classification of a status code.
type Class int

const (
	// ClassInfo codes are informational and never end a step.
	ClassInfo Class = iota
	// ClassSuccess ends the current step successfully.
	ClassSuccess
	// ClassFailure ends the whole session.
	ClassFailure
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassFailure:
		return "failure"
	default:
		return "info"
	}
}

// Status codes reported by the device on the status characteristic.
const (
	StatusReady            uint16 = 0x0100
	StatusStart            uint16 = 0x0101
	StatusInProcess        uint16 = 0x0102
	StatusCertReady        uint16 = 0x0103
	StatusProvisionSuccess uint16 = 0x0104
	StatusRebooting        uint16 = 0x0105
	StatusIdle             uint16 = 0x0106
	StatusSSID             uint16 = 0x0107
	StatusPassword         uint16 = 0x0108
	StatusCertError        uint16 = 0x0109
	StatusProvisionFailure uint16 = 0x010A
)

// UnknownStatusName is the symbolic name of codes missing from the table.
const UnknownStatusName = "UNKNOWN"

var statusNames = map[uint16]string{
	StatusReady:            "READY",
	StatusStart:            "START",
	StatusInProcess:        "INPROCESS",
	StatusCertReady:        "CERT_READY",
	StatusProvisionSuccess: "PROVISION_SUCCESS",
	StatusRebooting:        "REBOOTING",
	StatusIdle:             "IDLE",
	StatusSSID:             "SSID",
	StatusPassword:         "PWD",
	StatusCertError:        "CERT_ERR",
	StatusProvisionFailure: "PROVISION_FAILURE",
}

// StatusName returns the symbolic name for code.
func StatusName(code uint16) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return UnknownStatusName
}

// Classify maps a status code to its class. Only PROVISION_SUCCESS and
// PROVISION_FAILURE are terminal; every other code is informational until the
// device's full table is known.
func Classify(code uint16) Class {
	switch code {
	case StatusProvisionSuccess:
		return ClassSuccess
	case StatusProvisionFailure:
		return ClassFailure
	default:
		return ClassInfo
	}
}

// StatusRecord is one decoded status notification.
type StatusRecord struct {
	Code   uint16
	Name   string
	RawHex string // trailing payload bytes, empty if none
}

// Class returns the record's classification.
func (r StatusRecord) Class() Class {
	return Classify(r.Code)
}

func (r StatusRecord) String() string {
	if r.RawHex == "" {
		return fmt.Sprintf("0x%04X %s", r.Code, r.Name)
	}
	return fmt.Sprintf("0x%04X %s [%s]", r.Code, r.Name, r.RawHex)
}

// DecodeStatus decodes a status notification. The first two bytes are the
// big-endian status code, anything after them is echoed as hex. Unknown codes
// decode successfully; only frames shorter than two bytes fail.
func DecodeStatus(data []byte) (StatusRecord, error) {
	if len(data) < 2 {
		return StatusRecord{}, fmt.Errorf("%w: %d bytes, need at least 2", ErrMalformedNotification, len(data))
	}
	code := binary.BigEndian.Uint16(data[:2])
	rec := StatusRecord{
		Code: code,
		Name: StatusName(code),
	}
	if len(data) > 2 {
		rec.RawHex = hex.EncodeToString(data[2:])
	}
	return rec, nil
}
