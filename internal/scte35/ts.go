package scte35

import "fmt"

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47

	// NullPID is the MPEG-TS stuffing PID.
	NullPID = 8191
)

// PacketizeSection wraps an encoded splice_info_section into 188-byte
// MPEG-TS packets on the given PID. The first packet carries the payload
// unit start indicator and a zero pointer field; trailing space is stuffed
// with 0xFF. It returns the packets concatenated and the continuity counter
// to use for the next section on this PID.
func PacketizeSection(section []byte, pid uint16, continuity uint8) ([]byte, uint8, error) {
	if pid > NullPID {
		return nil, continuity, fmt.Errorf("scte35: pid %d out of range", pid)
	}

	var out []byte
	first := true
	for len(section) > 0 || first {
		pkt := make([]byte, tsPacketSize)
		pkt[0] = tsSyncByte
		pkt[1] = uint8(pid >> 8)
		pkt[2] = uint8(pid)
		// adaptation_field_control = payload only
		pkt[3] = 0x10 | continuity&0x0F
		continuity++

		payload := pkt[4:]
		if first {
			pkt[1] |= 0x40 // payload_unit_start_indicator
			payload[0] = 0x00
			payload = payload[1:]
			first = false
		}
		n := copy(payload, section)
		section = section[n:]
		for i := n; i < len(payload); i++ {
			payload[i] = 0xFF
		}
		out = append(out, pkt...)
	}
	return out, continuity, nil
}

// DepacketizeSections extracts splice_info_section payloads from a stream of
// TS packets filtered to a single PID. Sections spanning multiple packets
// are reassembled in order.
func DepacketizeSections(packets []byte) ([][]byte, error) {
	if len(packets)%tsPacketSize != 0 {
		return nil, fmt.Errorf("scte35: truncated ts data: %d bytes", len(packets))
	}

	var sections [][]byte
	var pending []byte
	for off := 0; off < len(packets); off += tsPacketSize {
		pkt := packets[off : off+tsPacketSize]
		if pkt[0] != tsSyncByte {
			return nil, fmt.Errorf("scte35: missing sync byte at offset %d", off)
		}
		pusi := pkt[1]&0x40 != 0
		payload := pkt[4:]
		if pkt[3]&0x20 != 0 { // adaptation field present
			afLen := int(payload[0])
			if afLen+1 > len(payload) {
				continue
			}
			payload = payload[1+afLen:]
		}
		if pkt[3]&0x10 == 0 {
			continue
		}
		if pusi {
			if len(payload) < 1 {
				continue
			}
			ptr := int(payload[0])
			if 1+ptr > len(payload) {
				continue
			}
			if len(pending) > 0 {
				pending = append(pending, payload[1:1+ptr]...)
				sections = appendSection(sections, pending)
			}
			pending = append([]byte(nil), payload[1+ptr:]...)
		} else if len(pending) > 0 {
			pending = append(pending, payload...)
		}
	}
	if len(pending) > 0 {
		sections = appendSection(sections, pending)
	}
	return sections, nil
}

// appendSection trims stuffing and drops anything that is not long enough
// to be a section.
func appendSection(sections [][]byte, raw []byte) [][]byte {
	if len(raw) < 3 || raw[0] == 0xFF {
		return sections
	}
	length := 3 + int(uint16(raw[1]&0x0F)<<8|uint16(raw[2]))
	if length > len(raw) {
		return sections
	}
	return append(sections, raw[:length])
}
