package protocol

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies a provisioning command.
type Opcode uint16

const (
	OpStart    Opcode = 0xA001
	OpSSID     Opcode = 0xA002
	OpPassword Opcode = 0xA003
	OpDone     Opcode = 0xA010
	OpReboot   Opcode = 0xA011
)

func (o Opcode) String() string {
	switch o {
	case OpStart:
		return "START"
	case OpSSID:
		return "SSID"
	case OpPassword:
		return "PASSWORD"
	case OpDone:
		return "DONE"
	case OpReboot:
		return "REBOOT"
	default:
		return fmt.Sprintf("0x%04X", uint16(o))
	}
}

// Frame layout. Every packet fits a default 23-byte ATT MTU (20 bytes of
// value): a 3-byte header, and on the first packet a 6-byte command header.
const (
	PrefixID          uint16 = 0x03E4
	packetHeaderLen          = 3
	commandHeaderLen         = 6
	FirstPacketMax           = 20 - packetHeaderLen - commandHeaderLen // 11
	NextPacketMax            = 20 - packetHeaderLen                    // 17
	MaxSSIDBytes             = 36
	MaxPasswordBytes         = 64
	maxPacketsPerCommand     = 255
)

// BuildPackets frames one command as a sequence of packets.
//
// Each packet starts with [index, count, length] where index is 1-based and
// length counts the bytes following the 3-byte header. The first packet then
// carries PrefixID, the opcode and the total payload length (all little
// endian) followed by up to FirstPacketMax payload bytes; later packets carry
// up to NextPacketMax payload bytes. An empty payload yields a single packet.
func BuildPackets(op Opcode, payload []byte) ([][]byte, error) {
	chunks := splitPayload(payload)
	if len(chunks) > maxPacketsPerCommand || len(payload) > 0xFFFF {
		return nil, fmt.Errorf("protocol: payload of %d bytes too large for one command", len(payload))
	}

	count := byte(len(chunks))
	packets := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		index := byte(i + 1)
		var pkt []byte
		if i == 0 {
			pkt = make([]byte, 0, packetHeaderLen+commandHeaderLen+len(chunk))
			pkt = append(pkt, index, count, byte(commandHeaderLen+len(chunk)))
			pkt = binary.LittleEndian.AppendUint16(pkt, PrefixID)
			pkt = binary.LittleEndian.AppendUint16(pkt, uint16(op))
			pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(payload)))
		} else {
			pkt = make([]byte, 0, packetHeaderLen+len(chunk))
			pkt = append(pkt, index, count, byte(len(chunk)))
		}
		pkt = append(pkt, chunk...)
		packets = append(packets, pkt)
	}
	return packets, nil
}

// splitPayload cuts payload into the first-packet chunk and the follow-up
// chunks. Always returns at least one (possibly empty) chunk.
func splitPayload(payload []byte) [][]byte {
	if len(payload) <= FirstPacketMax {
		return [][]byte{payload}
	}
	chunks := [][]byte{payload[:FirstPacketMax]}
	for rest := payload[FirstPacketMax:]; len(rest) > 0; {
		n := min(NextPacketMax, len(rest))
		chunks = append(chunks, rest[:n])
		rest = rest[n:]
	}
	return chunks
}
