package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestBuildPacketsEmptyPayload(t *testing.T) {
	got, err := BuildPackets(OpStart, nil)
	if err != nil {
		t.Fatalf("BuildPackets() error = %v", err)
	}
	// [index=1, count=1, len=6] prefix 0x03e4 LE, opcode 0xa001 LE, data len 0
	want := [][]byte{{0x01, 0x01, 0x06, 0xe4, 0x03, 0x01, 0xa0, 0x00, 0x00}}
	if len(got) != 1 || !bytes.Equal(got[0], want[0]) {
		t.Errorf("BuildPackets(START) = %x, want %x", got, want)
	}
}

func TestBuildPacketsSinglePacket(t *testing.T) {
	got, err := BuildPackets(OpSSID, []byte("HomeNet"))
	if err != nil {
		t.Fatalf("BuildPackets() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d packets, want 1", len(got))
	}
	var want []byte
	want = append(want, 0x01, 0x01, 0x06+7)
	want = append(want, 0xe4, 0x03, 0x02, 0xa0, 0x07, 0x00)
	want = append(want, "HomeNet"...)
	if !bytes.Equal(got[0], want) {
		t.Errorf("BuildPackets(SSID) =\n  got  %x\n  want %x", got[0], want)
	}
}

func TestBuildPacketsSplitsLongPayload(t *testing.T) {
	payload := []byte(strings.Repeat("p", 40)) // 11 + 17 + 12
	got, err := BuildPackets(OpPassword, payload)
	if err != nil {
		t.Fatalf("BuildPackets() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d packets, want 3", len(got))
	}

	wantLens := []int{3 + 6 + 11, 3 + 17, 3 + 12}
	var reassembled []byte
	for i, pkt := range got {
		if len(pkt) != wantLens[i] {
			t.Errorf("packet %d length = %d, want %d", i, len(pkt), wantLens[i])
		}
		if len(pkt) > 20 {
			t.Errorf("packet %d length %d exceeds 20-byte ATT value", i, len(pkt))
		}
		if pkt[0] != byte(i+1) || pkt[1] != 3 {
			t.Errorf("packet %d header = %x, want index %d count 3", i, pkt[:3], i+1)
		}
		if int(pkt[2]) != len(pkt)-3 {
			t.Errorf("packet %d length byte = %d, want %d", i, pkt[2], len(pkt)-3)
		}
		if i == 0 {
			reassembled = append(reassembled, pkt[9:]...)
		} else {
			reassembled = append(reassembled, pkt[3:]...)
		}
	}
	if !bytes.Equal(reassembled, payload) {
		t.Errorf("reassembled payload = %q, want %q", reassembled, payload)
	}
	// total payload length in the first packet
	if got[0][7] != 40 || got[0][8] != 0 {
		t.Errorf("data length field = %x, want 2800", got[0][7:9])
	}
}

func TestBuildPacketsExactlyFirstPacketMax(t *testing.T) {
	got, err := BuildPackets(OpSSID, bytes.Repeat([]byte{'a'}, FirstPacketMax))
	if err != nil {
		t.Fatalf("BuildPackets() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d packets, want 1", len(got))
	}
}

func TestFirstPacketCarriesOpcode(t *testing.T) {
	for _, op := range []Opcode{OpStart, OpSSID, OpPassword, OpDone, OpReboot} {
		pkts, err := BuildPackets(op, []byte(strings.Repeat("x", 30)))
		if err != nil {
			t.Fatalf("BuildPackets(%v) error = %v", op, err)
		}
		got, ok := commandOpcode(pkts[0])
		if !ok || got != op {
			t.Errorf("commandOpcode(first %v packet) = %v, %v; want %v, true", op, got, ok, op)
		}
		if _, ok := commandOpcode(pkts[1]); ok {
			t.Errorf("commandOpcode(continuation %v packet) ok = true, want false", op)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if OpReboot.String() != "REBOOT" {
		t.Errorf("OpReboot.String() = %q", OpReboot.String())
	}
	if Opcode(0x1234).String() != "0x1234" {
		t.Errorf("Opcode(0x1234).String() = %q", Opcode(0x1234).String())
	}
}

// commandOpcode reads the opcode from the first packet of a framed command.
// ok is false for continuation packets and short packets.
func commandOpcode(packet []byte) (Opcode, bool) {
	if len(packet) < packetHeaderLen+commandHeaderLen || packet[0] != 1 {
		return 0, false
	}
	if binary.LittleEndian.Uint16(packet[3:5]) != PrefixID {
		return 0, false
	}
	return Opcode(binary.LittleEndian.Uint16(packet[5:7])), true
}
