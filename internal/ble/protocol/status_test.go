package protocol

import (
	"errors"
	"testing"
)

func TestDecodeStatusKnownCodes(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantCode  uint16
		wantName  string
		wantClass Class
		wantHex   string
	}{
		{"success bare", []byte{0x01, 0x04}, 0x0104, "PROVISION_SUCCESS", ClassSuccess, ""},
		{"success with payload", []byte{0x01, 0x04, 0xde, 0xad}, 0x0104, "PROVISION_SUCCESS", ClassSuccess, "dead"},
		{"failure bare", []byte{0x01, 0x0A}, 0x010A, "PROVISION_FAILURE", ClassFailure, ""},
		{"failure with payload", []byte{0x01, 0x0A, 0x00, 0x01, 0x02}, 0x010A, "PROVISION_FAILURE", ClassFailure, "000102"},
		{"ready is informational", []byte{0x01, 0x00}, 0x0100, "READY", ClassInfo, ""},
		{"rebooting is informational", []byte{0x01, 0x05}, 0x0105, "REBOOTING", ClassInfo, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeStatus(tt.data)
			if err != nil {
				t.Fatalf("DecodeStatus(%x) error = %v", tt.data, err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("Code = 0x%04X, want 0x%04X", rec.Code, tt.wantCode)
			}
			if rec.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", rec.Name, tt.wantName)
			}
			if rec.Class() != tt.wantClass {
				t.Errorf("Class() = %v, want %v", rec.Class(), tt.wantClass)
			}
			if rec.RawHex != tt.wantHex {
				t.Errorf("RawHex = %q, want %q", rec.RawHex, tt.wantHex)
			}
		})
	}
}

func TestDecodeStatusIsBigEndian(t *testing.T) {
	// 0x0401 would be the little-endian reading of the success frame.
	rec, err := DecodeStatus([]byte{0x04, 0x01})
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	if rec.Code != 0x0401 {
		t.Errorf("Code = 0x%04X, want 0x0401", rec.Code)
	}
	if rec.Class() != ClassInfo {
		t.Errorf("Class() = %v, want info", rec.Class())
	}
}

func TestDecodeStatusTotalForTwoBytes(t *testing.T) {
	for hi := 0; hi < 256; hi++ {
		for _, lo := range []byte{0x00, 0x04, 0x0A, 0x7F, 0xFF} {
			rec, err := DecodeStatus([]byte{byte(hi), lo})
			if err != nil {
				t.Fatalf("DecodeStatus(%02x%02x) error = %v", hi, lo, err)
			}
			if rec.Name == "" {
				t.Fatalf("DecodeStatus(%02x%02x) has empty name", hi, lo)
			}
		}
	}
}

func TestDecodeStatusUnknownCode(t *testing.T) {
	rec, err := DecodeStatus([]byte{0xBE, 0xEF, 0x01})
	if err != nil {
		t.Fatalf("DecodeStatus() error = %v", err)
	}
	if rec.Name != UnknownStatusName {
		t.Errorf("Name = %q, want %q", rec.Name, UnknownStatusName)
	}
	if rec.Class() != ClassInfo {
		t.Errorf("Class() = %v, want info", rec.Class())
	}
	if rec.RawHex != "01" {
		t.Errorf("RawHex = %q, want %q", rec.RawHex, "01")
	}
}

func TestDecodeStatusMalformed(t *testing.T) {
	for _, data := range [][]byte{nil, {}, {0x01}} {
		_, err := DecodeStatus(data)
		if !errors.Is(err, ErrMalformedNotification) {
			t.Errorf("DecodeStatus(%x) error = %v, want ErrMalformedNotification", data, err)
		}
	}
}

func TestStatusRecordString(t *testing.T) {
	rec := StatusRecord{Code: 0x010A, Name: "PROVISION_FAILURE", RawHex: "ff"}
	if got, want := rec.String(), "0x010A PROVISION_FAILURE [ff]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
