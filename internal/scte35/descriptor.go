package scte35

import "encoding/binary"

// Splice descriptor tags.
const (
	TagAvail        = 0x00
	TagDTMF         = 0x01
	TagSegmentation = 0x02
)

// Segmentation type ids used by this package.
const (
	SegTypeProviderPOStart = 0x34
	SegTypeProviderPOEnd   = 0x35
	SegTypeDistributorPO   = 0x36
)

// SpliceDescriptor is one entry of the section's descriptor loop.
type SpliceDescriptor interface {
	Tag() uint8
	encode() []byte
}

// AvailDescriptor is the avail_descriptor (tag 0x00).
type AvailDescriptor struct {
	ProviderAvailID uint32
}

func (AvailDescriptor) Tag() uint8 { return TagAvail }

func (d *AvailDescriptor) encode() []byte {
	buf := make([]byte, 6)
	buf[0] = TagAvail
	buf[1] = 4
	binary.BigEndian.PutUint32(buf[2:], d.ProviderAvailID)
	return buf
}

// DTMFDescriptor is the DTMF_descriptor (tag 0x01).
type DTMFDescriptor struct {
	// Preroll is in tenths of a second.
	Preroll uint8
	Chars   string // up to 8 DTMF characters
}

func (DTMFDescriptor) Tag() uint8 { return TagDTMF }

func (d *DTMFDescriptor) encode() []byte {
	chars := d.Chars
	if len(chars) > 8 {
		chars = chars[:8]
	}
	buf := make([]byte, 0, 4+len(chars))
	buf = append(buf, TagDTMF, uint8(2+len(chars)), d.Preroll)
	// dtmf_count (3 bits) + reserved (5 bits)
	buf = append(buf, uint8(len(chars))<<5|0x1F)
	return append(buf, chars...)
}

// SegmentationDescriptor is the segmentation_descriptor (tag 0x02),
// restricted to the delivery-not-restricted program segmentation shape this
// package emits and consumes.
type SegmentationDescriptor struct {
	EventID     uint32
	EventCancel bool
	HasDuration bool
	Duration    uint64 // 40 bits, 90 kHz ticks
	TypeID      uint8
	SegmentNum  uint8
	SegmentsExp uint8
}

func (SegmentationDescriptor) Tag() uint8 { return TagSegmentation }

func (d *SegmentationDescriptor) encode() []byte {
	buf := make([]byte, 0, 22)
	buf = append(buf, TagSegmentation, 0) // length patched below
	buf = append(buf, 'C', 'U', 'E', 'I') // identifier
	buf = binary.BigEndian.AppendUint32(buf, d.EventID)

	var flags uint8
	if d.EventCancel {
		flags |= 0x80
	}
	flags |= 0x7F // reserved
	buf = append(buf, flags)

	if !d.EventCancel {
		// program_segmentation=1, delivery_not_restricted=1
		flags = 0x80 | 0x20 | 0x1F
		if d.HasDuration {
			flags |= 0x40
		}
		buf = append(buf, flags)
		if d.HasDuration {
			buf = append(buf, uint8(d.Duration>>32))
			buf = binary.BigEndian.AppendUint32(buf, uint32(d.Duration))
		}
		// upid_type=0 (none), upid_length=0
		buf = append(buf, 0x00, 0x00)
		buf = append(buf, d.TypeID, d.SegmentNum, d.SegmentsExp)
	}

	buf[1] = uint8(len(buf) - 2)
	return buf
}

// rawDescriptor preserves descriptors this package does not interpret.
type rawDescriptor struct {
	tag  uint8
	body []byte
}

func (d *rawDescriptor) Tag() uint8 { return d.tag }

func (d *rawDescriptor) encode() []byte {
	return append([]byte{d.tag, uint8(len(d.body))}, d.body...)
}

func decodeDescriptors(data []byte) ([]SpliceDescriptor, error) {
	var descs []SpliceDescriptor
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, ErrSectionTooShort
		}
		tag, length := data[0], int(data[1])
		if len(data) < 2+length {
			return nil, ErrSectionTooShort
		}
		body := data[2 : 2+length]
		switch tag {
		case TagAvail:
			if length >= 4 {
				descs = append(descs, &AvailDescriptor{ProviderAvailID: binary.BigEndian.Uint32(body)})
			}
		case TagDTMF:
			if length >= 2 {
				count := int(body[1] >> 5)
				if count > len(body)-2 {
					count = len(body) - 2
				}
				descs = append(descs, &DTMFDescriptor{Preroll: body[0], Chars: string(body[2 : 2+count])})
			}
		case TagSegmentation:
			if d := decodeSegmentation(body); d != nil {
				descs = append(descs, d)
			}
		default:
			descs = append(descs, &rawDescriptor{tag: tag, body: append([]byte(nil), body...)})
		}
		data = data[2+length:]
	}
	return descs, nil
}

func decodeSegmentation(data []byte) *SegmentationDescriptor {
	if len(data) < 9 {
		return nil
	}
	// skip the CUEI identifier
	d := &SegmentationDescriptor{EventID: binary.BigEndian.Uint32(data[4:])}
	d.EventCancel = data[8]&0x80 != 0
	if d.EventCancel {
		return d
	}
	if len(data) < 10 {
		return nil
	}
	flags := data[9]
	d.HasDuration = flags&0x40 != 0
	offset := 10
	if d.HasDuration {
		if len(data) < offset+5 {
			return nil
		}
		d.Duration = uint64(data[offset])<<32 | uint64(binary.BigEndian.Uint32(data[offset+1:]))
		offset += 5
	}
	if len(data) < offset+2 {
		return nil
	}
	upidLen := int(data[offset+1])
	offset += 2 + upidLen
	if len(data) < offset+3 {
		return nil
	}
	d.TypeID = data[offset]
	d.SegmentNum = data[offset+1]
	d.SegmentsExp = data[offset+2]
	return d
}
