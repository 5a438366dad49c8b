// Package scte35 implements the SCTE-35 splice_info_section wire format and
// the per-output-format cue representations derived from it.
package scte35

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// TableID is the SCTE-35 splice_info_section table id.
	TableID = 0xFC
	// StreamType is the MPEG-TS stream type for SCTE-35 sections.
	StreamType = 0x86
	// TicksPerSecond is the 90 kHz splice clock rate.
	TicksPerSecond = 90000
)

// Splice command types.
const (
	CmdSpliceNull     = 0x00
	CmdSpliceSchedule = 0x04
	CmdSpliceInsert   = 0x05
	CmdTimeSignal     = 0x06
	CmdBandwidthRes   = 0x07
	CmdPrivate        = 0xFF
)

var (
	ErrSectionTooShort      = errors.New("scte35: section too short")
	ErrInvalidTableID       = errors.New("scte35: invalid table id")
	ErrInvalidSectionLength = errors.New("scte35: invalid section length")
	ErrBadCRC               = errors.New("scte35: crc mismatch")
)

// SpliceInfoSection is a decoded splice_info_section.
type SpliceInfoSection struct {
	ProtocolVersion     uint8
	EncryptedPacket     bool
	EncryptionAlgorithm uint8
	PTSAdjustment       uint64 // 33 bits
	CWIndex             uint8
	Tier                uint16 // 12 bits
	Command             SpliceCommand
	Descriptors         []SpliceDescriptor
	CRC32               uint32
}

// SpliceCommand is a splice command payload.
type SpliceCommand interface {
	Type() uint8
	encode() []byte
}

// SpliceNull is the splice_null() heartbeat command.
type SpliceNull struct{}

func (SpliceNull) Type() uint8    { return CmdSpliceNull }
func (SpliceNull) encode() []byte { return nil }

// SpliceInsert is the splice_insert() command carrying ad break boundaries.
type SpliceInsert struct {
	EventID         uint32
	EventCancel     bool
	OutOfNetwork    bool
	ProgramSplice   bool
	SpliceImmediate bool
	SpliceTime      *SpliceTime
	BreakDuration   *BreakDuration
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8
}

func (SpliceInsert) Type() uint8 { return CmdSpliceInsert }

func (s *SpliceInsert) encode() []byte {
	buf := make([]byte, 4, 20)
	binary.BigEndian.PutUint32(buf, s.EventID)

	var flags uint8
	if s.EventCancel {
		flags |= 0x80
	} else {
		if s.OutOfNetwork {
			flags |= 0x40
		}
		if s.ProgramSplice {
			flags |= 0x20
		}
		if s.BreakDuration != nil {
			flags |= 0x10
		}
		if s.SpliceImmediate {
			flags |= 0x08
		}
	}
	flags |= 0x07 // reserved
	buf = append(buf, flags)

	if s.EventCancel {
		return buf
	}
	if s.ProgramSplice && !s.SpliceImmediate && s.SpliceTime != nil {
		buf = append(buf, s.SpliceTime.encode()...)
	}
	if s.BreakDuration != nil {
		buf = append(buf, s.BreakDuration.encode()...)
	}
	buf = binary.BigEndian.AppendUint16(buf, s.UniqueProgramID)
	buf = append(buf, s.AvailNum, s.AvailsExpected)
	return buf
}

// TimeSignal is the time_signal() command.
type TimeSignal struct {
	SpliceTime SpliceTime
}

func (TimeSignal) Type() uint8 { return CmdTimeSignal }

func (t *TimeSignal) encode() []byte {
	return t.SpliceTime.encode()
}

// SpliceTime is the splice_time() structure: an optional 33-bit PTS.
type SpliceTime struct {
	TimeSpecified bool
	PTS           uint64 // 33 bits
}

func (t *SpliceTime) encode() []byte {
	if !t.TimeSpecified {
		return []byte{0x7F}
	}
	buf := make([]byte, 5)
	buf[0] = 0xFE | uint8(t.PTS>>32&0x01)
	binary.BigEndian.PutUint32(buf[1:], uint32(t.PTS))
	return buf
}

// BreakDuration is the break_duration() structure carried by CUE-OUT.
type BreakDuration struct {
	AutoReturn bool
	Duration   uint64 // 33 bits, 90 kHz ticks
}

func (b *BreakDuration) encode() []byte {
	buf := make([]byte, 5)
	buf[0] = 0x7E | uint8(b.Duration>>32&0x01)
	if b.AutoReturn {
		buf[0] |= 0x80
	}
	binary.BigEndian.PutUint32(buf[1:], uint32(b.Duration))
	return buf
}

// Encode serializes the section, computing section_length and CRC32.
func (s *SpliceInfoSection) Encode() ([]byte, error) {
	var cmdBody []byte
	cmdType := uint8(CmdSpliceNull)
	if s.Command != nil {
		cmdType = s.Command.Type()
		cmdBody = s.Command.encode()
	}
	if len(cmdBody) > 0xFFF {
		return nil, fmt.Errorf("scte35: splice command too long: %d bytes", len(cmdBody))
	}

	var descBody []byte
	for _, d := range s.Descriptors {
		descBody = append(descBody, d.encode()...)
	}
	if len(descBody) > 0xFFFF {
		return nil, fmt.Errorf("scte35: descriptor loop too long: %d bytes", len(descBody))
	}

	// protocol_version through splice_command_type is 11 bytes; then the
	// command body, 2 bytes of descriptor_loop_length, descriptors, CRC.
	sectionLength := 11 + len(cmdBody) + 2 + len(descBody) + 4
	if sectionLength > 0xFFF {
		return nil, ErrInvalidSectionLength
	}

	buf := make([]byte, 0, 3+sectionLength)
	buf = append(buf, TableID)
	// section_syntax_indicator=0, private_indicator=0, sap_type=3
	buf = append(buf, 0x30|uint8(sectionLength>>8), uint8(sectionLength))
	buf = append(buf, s.ProtocolVersion)

	enc := uint8(s.PTSAdjustment >> 32 & 0x01)
	enc |= (s.EncryptionAlgorithm & 0x3F) << 1
	if s.EncryptedPacket {
		enc |= 0x80
	}
	buf = append(buf, enc)
	buf = binary.BigEndian.AppendUint32(buf, uint32(s.PTSAdjustment))
	buf = append(buf, s.CWIndex)

	// tier (12 bits) and splice_command_length (12 bits) share 3 bytes.
	cmdLen := len(cmdBody)
	buf = append(buf,
		uint8(s.Tier>>4),
		uint8(s.Tier&0x0F)<<4|uint8(cmdLen>>8),
		uint8(cmdLen))
	buf = append(buf, cmdType)
	buf = append(buf, cmdBody...)

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(descBody)))
	buf = append(buf, descBody...)

	crc := mpegCRC32(buf)
	buf = binary.BigEndian.AppendUint32(buf, crc)
	s.CRC32 = crc
	return buf, nil
}

// Decode parses a splice_info_section and verifies its CRC.
func Decode(data []byte) (*SpliceInfoSection, error) {
	if len(data) < 17 {
		return nil, ErrSectionTooShort
	}
	if data[0] != TableID {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidTableID, data[0])
	}
	sectionLength := int(binary.BigEndian.Uint16(data[1:]) & 0x0FFF)
	if 3+sectionLength > len(data) {
		return nil, ErrInvalidSectionLength
	}
	data = data[:3+sectionLength]
	if mpegCRC32(data[:len(data)-4]) != binary.BigEndian.Uint32(data[len(data)-4:]) {
		return nil, ErrBadCRC
	}

	s := &SpliceInfoSection{
		ProtocolVersion: data[3],
		CRC32:           binary.BigEndian.Uint32(data[len(data)-4:]),
	}
	s.EncryptedPacket = data[4]&0x80 != 0
	s.EncryptionAlgorithm = data[4] >> 1 & 0x3F
	s.PTSAdjustment = uint64(data[4]&0x01)<<32 | uint64(binary.BigEndian.Uint32(data[5:]))
	s.CWIndex = data[9]
	s.Tier = uint16(data[10])<<4 | uint16(data[11])>>4
	cmdLen := int(data[11]&0x0F)<<8 | int(data[12])
	cmdType := data[13]

	offset := 14
	if offset+cmdLen > len(data)-6 {
		return nil, ErrInvalidSectionLength
	}
	cmdBody := data[offset : offset+cmdLen]
	offset += cmdLen

	var err error
	switch cmdType {
	case CmdSpliceNull:
		s.Command = SpliceNull{}
	case CmdSpliceInsert:
		s.Command, err = decodeSpliceInsert(cmdBody)
	case CmdTimeSignal:
		s.Command, err = decodeTimeSignal(cmdBody)
	default:
		s.Command = &rawCommand{typ: cmdType, body: append([]byte(nil), cmdBody...)}
	}
	if err != nil {
		return nil, err
	}

	descLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2
	if offset+descLen > len(data)-4 {
		return nil, ErrInvalidSectionLength
	}
	s.Descriptors, err = decodeDescriptors(data[offset : offset+descLen])
	if err != nil {
		return nil, err
	}
	return s, nil
}

// rawCommand preserves commands this package does not interpret.
type rawCommand struct {
	typ  uint8
	body []byte
}

func (c *rawCommand) Type() uint8    { return c.typ }
func (c *rawCommand) encode() []byte { return c.body }

func decodeSpliceInsert(data []byte) (*SpliceInsert, error) {
	if len(data) < 5 {
		return nil, ErrSectionTooShort
	}
	ins := &SpliceInsert{EventID: binary.BigEndian.Uint32(data)}
	flags := data[4]
	ins.EventCancel = flags&0x80 != 0
	if ins.EventCancel {
		return ins, nil
	}
	ins.OutOfNetwork = flags&0x40 != 0
	ins.ProgramSplice = flags&0x20 != 0
	durationFlag := flags&0x10 != 0
	ins.SpliceImmediate = flags&0x08 != 0

	offset := 5
	if ins.ProgramSplice && !ins.SpliceImmediate {
		st, n, err := decodeSpliceTime(data[offset:])
		if err != nil {
			return nil, err
		}
		ins.SpliceTime = st
		offset += n
	}
	if durationFlag {
		if len(data) < offset+5 {
			return nil, ErrSectionTooShort
		}
		ins.BreakDuration = &BreakDuration{
			AutoReturn: data[offset]&0x80 != 0,
			Duration:   uint64(data[offset]&0x01)<<32 | uint64(binary.BigEndian.Uint32(data[offset+1:])),
		}
		offset += 5
	}
	if len(data) < offset+4 {
		return nil, ErrSectionTooShort
	}
	ins.UniqueProgramID = binary.BigEndian.Uint16(data[offset:])
	ins.AvailNum = data[offset+2]
	ins.AvailsExpected = data[offset+3]
	return ins, nil
}

func decodeTimeSignal(data []byte) (*TimeSignal, error) {
	st, _, err := decodeSpliceTime(data)
	if err != nil {
		return nil, err
	}
	return &TimeSignal{SpliceTime: *st}, nil
}

func decodeSpliceTime(data []byte) (*SpliceTime, int, error) {
	if len(data) < 1 {
		return nil, 0, ErrSectionTooShort
	}
	st := &SpliceTime{TimeSpecified: data[0]&0x80 != 0}
	if !st.TimeSpecified {
		return st, 1, nil
	}
	if len(data) < 5 {
		return nil, 0, ErrSectionTooShort
	}
	st.PTS = uint64(data[0]&0x01)<<32 | uint64(binary.BigEndian.Uint32(data[1:]))
	return st, 5, nil
}

// DurationToTicks converts seconds to 90 kHz ticks, rounding to the nearest
// tick.
func DurationToTicks(seconds float64) uint64 {
	return uint64(seconds*TicksPerSecond + 0.5)
}

// TicksToDuration converts 90 kHz ticks to seconds.
func TicksToDuration(ticks uint64) float64 {
	return float64(ticks) / TicksPerSecond
}

// NewCueOut builds a splice_insert section signaling the start of an ad
// break of the given duration, with auto return set.
func NewCueOut(eventID uint32, durationSeconds float64) *SpliceInfoSection {
	return &SpliceInfoSection{
		Tier: 0xFFF,
		Command: &SpliceInsert{
			EventID:         eventID,
			OutOfNetwork:    true,
			ProgramSplice:   true,
			SpliceImmediate: true,
			BreakDuration: &BreakDuration{
				AutoReturn: true,
				Duration:   DurationToTicks(durationSeconds),
			},
			UniqueProgramID: 1,
			AvailNum:        1,
			AvailsExpected:  1,
		},
	}
}

// NewCueIn builds a splice_insert section signaling the return to program
// content.
func NewCueIn(eventID uint32) *SpliceInfoSection {
	return &SpliceInfoSection{
		Tier: 0xFFF,
		Command: &SpliceInsert{
			EventID:         eventID,
			OutOfNetwork:    false,
			ProgramSplice:   true,
			SpliceImmediate: true,
			UniqueProgramID: 1,
		},
	}
}

// IsCueOut reports whether the section signals the start of an ad break.
func (s *SpliceInfoSection) IsCueOut() bool {
	ins, ok := s.Command.(*SpliceInsert)
	return ok && !ins.EventCancel && ins.OutOfNetwork
}

// IsCueIn reports whether the section signals a return to program content.
func (s *SpliceInfoSection) IsCueIn() bool {
	ins, ok := s.Command.(*SpliceInsert)
	return ok && !ins.EventCancel && !ins.OutOfNetwork
}

// EventID returns the splice event id, or 0 for non-insert commands.
func (s *SpliceInfoSection) EventID() uint32 {
	if ins, ok := s.Command.(*SpliceInsert); ok {
		return ins.EventID
	}
	return 0
}

// BreakSeconds returns the break duration in seconds, or 0 when absent.
func (s *SpliceInfoSection) BreakSeconds() float64 {
	if ins, ok := s.Command.(*SpliceInsert); ok && ins.BreakDuration != nil {
		return TicksToDuration(ins.BreakDuration.Duration)
	}
	return 0
}
