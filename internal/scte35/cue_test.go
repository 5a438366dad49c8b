package scte35

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketizeSection_SinglePacket(t *testing.T) {
	section, err := NewCueOut(1, 30).Encode()
	require.NoError(t, err)

	packets, next, err := PacketizeSection(section, 500, 0)
	require.NoError(t, err)
	require.Len(t, packets, 188)
	assert.Equal(t, uint8(1), next)

	assert.Equal(t, uint8(0x47), packets[0])
	// pusi set, pid 500
	assert.Equal(t, uint8(0x41), packets[1])
	assert.Equal(t, uint8(0xF4), packets[2])
	// pointer field then the section
	assert.Equal(t, uint8(0x00), packets[4])
	assert.Equal(t, uint8(TableID), packets[5])
	// stuffing after the section
	assert.Equal(t, uint8(0xFF), packets[187])
}

func TestPacketizeSection_ContinuityWraps(t *testing.T) {
	section, err := NewCueIn(1).Encode()
	require.NoError(t, err)

	_, next, err := PacketizeSection(section, 500, 15)
	require.NoError(t, err)
	assert.Equal(t, uint8(16), next)

	packets, _, err := PacketizeSection(section, 500, 16)
	require.NoError(t, err)
	// counter is masked to 4 bits in the header
	assert.Equal(t, uint8(0x10), packets[3])
}

func TestPacketizeDepacketizeRoundtrip(t *testing.T) {
	out, err := NewCueOut(42, 30).Encode()
	require.NoError(t, err)
	in, err := NewCueIn(43).Encode()
	require.NoError(t, err)

	var stream []byte
	var cc uint8
	for _, section := range [][]byte{out, in} {
		pkts, next, err := PacketizeSection(section, 500, cc)
		require.NoError(t, err)
		stream = append(stream, pkts...)
		cc = next
	}

	sections, err := DepacketizeSections(stream)
	require.NoError(t, err)
	require.Len(t, sections, 2)

	first, err := Decode(sections[0])
	require.NoError(t, err)
	assert.True(t, first.IsCueOut())
	assert.Equal(t, uint32(42), first.EventID())

	second, err := Decode(sections[1])
	require.NoError(t, err)
	assert.True(t, second.IsCueIn())
	assert.Equal(t, uint32(43), second.EventID())
}

func TestDepacketizeSections_Truncated(t *testing.T) {
	_, err := DepacketizeSections(make([]byte, 100))
	assert.Error(t, err)
}

func TestHLSCueTags(t *testing.T) {
	assert.Equal(t, "#EXT-X-CUE-OUT:30.000", HLSCueOut(30))
	assert.Equal(t, "#EXT-X-CUE-OUT:15.500", HLSCueOut(15.5))
	assert.Equal(t, "#EXT-X-CUE-IN", HLSCueIn())
}

func TestParseHLSCues(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXTINF:4.000,
seg0.ts
#EXT-X-CUE-OUT:30.000
#EXTINF:4.000,
seg1.ts
#EXT-X-CUE-IN
#EXTINF:4.000,
seg2.ts
`
	cues := ParseHLSCues(playlist)
	require.Len(t, cues, 2)
	assert.True(t, cues[0].Out)
	assert.Equal(t, 30.0, cues[0].Duration)
	assert.False(t, cues[1].Out)
	assert.Greater(t, cues[1].Line, cues[0].Line)
}

func TestDASHEventStreamRoundtrip(t *testing.T) {
	stream := NewDASHEventStream()
	require.NoError(t, stream.AddSection(NewCueOut(7, 45), 900000))
	require.NoError(t, stream.AddSection(NewCueIn(8), 4950000))

	raw, err := stream.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), DASHSchemeID)

	parsed, sections, err := ParseDASHEventStream(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Events, 2)
	require.Len(t, sections, 2)

	assert.Equal(t, uint32(7), parsed.Events[0].ID)
	assert.Equal(t, uint64(900000), parsed.Events[0].PresentationTime)
	assert.Equal(t, DurationToTicks(45), parsed.Events[0].Duration)
	assert.True(t, sections[0].IsCueOut())
	assert.True(t, sections[1].IsCueIn())
}

func TestFLVCueTagRoundtrip(t *testing.T) {
	cue := FLVCue{EventID: 12, Out: true, Duration: 30, PreRoll: 4}

	tag := EncodeFLVCueTag(cue, 123456)
	decoded, timestamp, err := DecodeFLVCueTag(tag)
	require.NoError(t, err)
	assert.Equal(t, cue, decoded)
	assert.Equal(t, uint32(123456), timestamp)
}

func TestFLVCueTagRoundtrip_CueIn(t *testing.T) {
	tag := EncodeFLVCueTag(FLVCue{EventID: 13}, 0)
	decoded, _, err := DecodeFLVCueTag(tag)
	require.NoError(t, err)
	assert.False(t, decoded.Out)
	assert.Equal(t, uint32(13), decoded.EventID)
}

func TestRTPCuePacketRoundtrip(t *testing.T) {
	pkt, err := NewRTPCuePacket(NewCueOut(99, 20), 1000, 180000, 0xCAFE)
	require.NoError(t, err)
	assert.Equal(t, uint8(RTPCuePayloadType), pkt.PayloadType)
	assert.True(t, pkt.Marker)

	section, err := SectionFromRTPPacket(pkt)
	require.NoError(t, err)
	assert.True(t, section.IsCueOut())
	assert.Equal(t, uint32(99), section.EventID())
	assert.InDelta(t, 20.0, section.BreakSeconds(), 1.0/TicksPerSecond)
}

func TestSectionFromRTPPacket_NoExtension(t *testing.T) {
	pkt, err := NewRTPCuePacket(NewCueIn(1), 1, 0, 1)
	require.NoError(t, err)

	pkt.PayloadType = 96
	_, err = SectionFromRTPPacket(pkt)
	assert.ErrorIs(t, err, ErrNoCueExtension)
}
