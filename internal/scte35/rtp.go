package scte35

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// RTP cue side-channel parameters. Cue packets travel on their own payload
// type next to the media packets; the splice section rides in a two-byte
// header extension so receivers that only look at payloads pass it through
// untouched.
const (
	// RTPCuePayloadType is the dynamic payload type for cue packets.
	RTPCuePayloadType = 100
	// RTPCueExtensionID identifies the splice section header extension.
	RTPCueExtensionID = 1

	rtpExtensionProfileTwoByte = 0x1000
)

// ErrNoCueExtension is returned when a packet carries no splice section.
var ErrNoCueExtension = errors.New("scte35: no cue extension in packet")

// NewRTPCuePacket builds an RTP packet carrying the encoded section in a
// header extension. The timestamp is in 90 kHz ticks.
func NewRTPCuePacket(section *SpliceInfoSection, seq uint16, timestamp uint32, ssrc uint32) (*rtp.Packet, error) {
	raw, err := section.Encode()
	if err != nil {
		return nil, err
	}
	if len(raw) > 255 {
		return nil, fmt.Errorf("scte35: section too large for header extension: %d bytes", len(raw))
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:          2,
			Marker:           true,
			PayloadType:      RTPCuePayloadType,
			SequenceNumber:   seq,
			Timestamp:        timestamp,
			SSRC:             ssrc,
			Extension:        true,
			ExtensionProfile: rtpExtensionProfileTwoByte,
		},
	}
	if err := pkt.Header.SetExtension(RTPCueExtensionID, raw); err != nil {
		return nil, fmt.Errorf("setting cue extension: %w", err)
	}
	return pkt, nil
}

// SectionFromRTPPacket extracts and decodes the splice section carried by a
// cue packet.
func SectionFromRTPPacket(pkt *rtp.Packet) (*SpliceInfoSection, error) {
	if pkt.PayloadType != RTPCuePayloadType {
		return nil, fmt.Errorf("%w: payload type %d", ErrNoCueExtension, pkt.PayloadType)
	}
	raw := pkt.Header.GetExtension(RTPCueExtensionID)
	if len(raw) == 0 {
		return nil, ErrNoCueExtension
	}
	return Decode(raw)
}
