package scte35

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// FLVCueName is the script data name used for cue points in RTMP output.
const FLVCueName = "onCuePoint"

const flvScriptTagType = 18

// FLVCue is the cue point metadata carried in an onCuePoint script tag.
type FLVCue struct {
	EventID  uint32
	Out      bool
	Duration float64
	PreRoll  float64
}

// EncodeFLVCueTag renders a complete FLV script data tag (type 18) carrying
// the cue as an onCuePoint AMF0 object. The timestamp is in milliseconds.
func EncodeFLVCueTag(cue FLVCue, timestamp uint32) []byte {
	body := amf0StringValue(FLVCueName)
	body = append(body, amf0CueObject(cue)...)

	tag := make([]byte, 11, 11+len(body))
	tag[0] = flvScriptTagType
	tag[1] = uint8(len(body) >> 16)
	tag[2] = uint8(len(body) >> 8)
	tag[3] = uint8(len(body))
	tag[4] = uint8(timestamp >> 16)
	tag[5] = uint8(timestamp >> 8)
	tag[6] = uint8(timestamp)
	tag[7] = uint8(timestamp >> 24)
	// stream id stays zero
	return append(tag, body...)
}

func amf0CueObject(cue FLVCue) []byte {
	cueType := "cueIn"
	if cue.Out {
		cueType = "cueOut"
	}
	// ECMA array marker, property count, key/value pairs, end marker.
	buf := []byte{0x08, 0x00, 0x00, 0x00, 0x04}
	buf = append(buf, amf0Property("type", amf0StringValue(cueType))...)
	buf = append(buf, amf0Property("eventId", amf0Number(float64(cue.EventID)))...)
	buf = append(buf, amf0Property("duration", amf0Number(cue.Duration))...)
	buf = append(buf, amf0Property("preRoll", amf0Number(cue.PreRoll))...)
	return append(buf, 0x00, 0x00, 0x09)
}

func amf0Property(key string, value []byte) []byte {
	buf := binary.BigEndian.AppendUint16(nil, uint16(len(key)))
	buf = append(buf, key...)
	return append(buf, value...)
}

func amf0StringValue(s string) []byte {
	buf := make([]byte, 0, 3+len(s))
	buf = append(buf, 0x02)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func amf0Number(f float64) []byte {
	buf := []byte{0x00}
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}

// DecodeFLVCueTag parses a script data tag produced by EncodeFLVCueTag.
func DecodeFLVCueTag(tag []byte) (FLVCue, uint32, error) {
	var cue FLVCue
	if len(tag) < 11 || tag[0] != flvScriptTagType {
		return cue, 0, errors.New("scte35: not a script data tag")
	}
	size := int(tag[1])<<16 | int(tag[2])<<8 | int(tag[3])
	timestamp := uint32(tag[7])<<24 | uint32(tag[4])<<16 | uint32(tag[5])<<8 | uint32(tag[6])
	if len(tag) < 11+size {
		return cue, 0, errors.New("scte35: truncated script data tag")
	}
	body := tag[11 : 11+size]

	name, body, err := amf0ReadString(body)
	if err != nil || name != FLVCueName {
		return cue, 0, fmt.Errorf("scte35: unexpected script data name %q", name)
	}
	if len(body) < 5 || body[0] != 0x08 {
		return cue, 0, errors.New("scte35: cue payload is not an ecma array")
	}
	body = body[5:]

	for len(body) >= 3 {
		if body[0] == 0x00 && body[1] == 0x00 && body[2] == 0x09 {
			return cue, timestamp, nil
		}
		keyLen := int(binary.BigEndian.Uint16(body))
		if len(body) < 2+keyLen+1 {
			break
		}
		key := string(body[2 : 2+keyLen])
		body = body[2+keyLen:]
		switch body[0] {
		case 0x00:
			if len(body) < 9 {
				return cue, 0, errors.New("scte35: truncated amf0 number")
			}
			val := math.Float64frombits(binary.BigEndian.Uint64(body[1:]))
			switch key {
			case "eventId":
				cue.EventID = uint32(val)
			case "duration":
				cue.Duration = val
			case "preRoll":
				cue.PreRoll = val
			}
			body = body[9:]
		case 0x02:
			var val string
			val, body, err = amf0ReadStringValue(body)
			if err != nil {
				return cue, 0, err
			}
			if key == "type" {
				cue.Out = val == "cueOut"
			}
		default:
			return cue, 0, fmt.Errorf("scte35: unsupported amf0 marker 0x%02X", body[0])
		}
	}
	return cue, 0, errors.New("scte35: missing object end marker")
}

func amf0ReadString(data []byte) (string, []byte, error) {
	if len(data) < 1 || data[0] != 0x02 {
		return "", nil, errors.New("scte35: expected amf0 string")
	}
	return amf0ReadStringValue(data)
}

func amf0ReadStringValue(data []byte) (string, []byte, error) {
	if len(data) < 3 {
		return "", nil, errors.New("scte35: truncated amf0 string")
	}
	n := int(binary.BigEndian.Uint16(data[1:]))
	if len(data) < 3+n {
		return "", nil, errors.New("scte35: truncated amf0 string")
	}
	return string(data[3 : 3+n]), data[3+n:], nil
}
