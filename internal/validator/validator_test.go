package validator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
)

// writeCueTS writes a transport stream file containing only splice sections.
func writeCueTS(t *testing.T, dir, name string, sections ...*scte35.SpliceInfoSection) string {
	t.Helper()
	var data []byte
	var cc uint8
	for _, section := range sections {
		raw, err := section.Encode()
		require.NoError(t, err)
		packets, next, err := scte35.PacketizeSection(raw, 500, cc)
		require.NoError(t, err)
		cc = next
		data = append(data, packets...)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestScanTS(t *testing.T) {
	dir := t.TempDir()
	path := writeCueTS(t, dir, "input.ts",
		scte35.NewCueOut(1, 30),
		scte35.NewCueIn(2),
	)

	cues, err := ScanTS(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cues, 2)

	assert.Equal(t, uint32(1), cues[0].EventID)
	assert.Equal(t, models.EventCueOut, cues[0].Type)
	assert.InDelta(t, 30.0, cues[0].Duration, 0.001)

	assert.Equal(t, uint32(2), cues[1].EventID)
	assert.Equal(t, models.EventCueIn, cues[1].Type)
}

func TestScanTSEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ts")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cues, err := ScanTS(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, cues)
}

func TestValidateAgainstTS(t *testing.T) {
	dir := t.TempDir()
	input := writeCueTS(t, dir, "input.ts",
		scte35.NewCueOut(1, 30),
		scte35.NewCueIn(2),
	)
	output := writeCueTS(t, dir, "output.ts",
		scte35.NewCueOut(1, 30),
		scte35.NewCueIn(2),
	)

	result, err := Validate(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, 2, result.InputCues)
	assert.Equal(t, 2, result.Preserved)
	assert.Equal(t, 100.0, result.PreservationRate)
	for _, d := range result.Details {
		assert.True(t, d.Preserved)
		assert.True(t, d.MatchedByID)
	}
}

func TestValidateDetectsLoss(t *testing.T) {
	dir := t.TempDir()
	input := writeCueTS(t, dir, "input.ts",
		scte35.NewCueOut(1, 30),
		scte35.NewCueIn(2),
	)
	output := writeCueTS(t, dir, "output.ts",
		scte35.NewCueOut(1, 30),
	)

	result, err := Validate(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Preserved)
	assert.Equal(t, 50.0, result.PreservationRate)
	assert.True(t, result.Details[0].Preserved)
	assert.False(t, result.Details[1].Preserved)
}

func TestValidateAgainstHLSPlaylist(t *testing.T) {
	dir := t.TempDir()
	input := writeCueTS(t, dir, "input.ts",
		scte35.NewCueOut(7, 15),
		scte35.NewCueIn(8),
	)

	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n" +
		"#EXTINF:4.000,\nseg0.ts\n" +
		scte35.HLSCueOut(15) + "\n" +
		"#EXTINF:4.000,\nseg1.ts\n" +
		scte35.HLSCueIn() + "\n" +
		"#EXTINF:4.000,\nseg2.ts\n"
	out := filepath.Join(dir, "playlist.m3u8")
	require.NoError(t, os.WriteFile(out, []byte(playlist), 0o644))

	result, err := Validate(context.Background(), input, out)
	require.NoError(t, err)
	assert.Equal(t, 2, result.InputCues)
	assert.Equal(t, 2, result.OutputCues)
	assert.Equal(t, 100.0, result.PreservationRate)
	// playlist tags carry no event ids
	for _, d := range result.Details {
		assert.True(t, d.Preserved)
		assert.False(t, d.MatchedByID)
	}
}

func TestValidateAgainstDASHManifest(t *testing.T) {
	dir := t.TempDir()
	input := writeCueTS(t, dir, "input.ts",
		scte35.NewCueOut(4, 20),
		scte35.NewCueIn(5),
	)

	stream := scte35.NewDASHEventStream()
	require.NoError(t, stream.AddSection(scte35.NewCueOut(4, 20), 90000))
	require.NoError(t, stream.AddSection(scte35.NewCueIn(5), 1890000))
	fragment, err := stream.Marshal()
	require.NoError(t, err)

	mpd := fmt.Sprintf("<MPD><Period>\n%s\n</Period></MPD>\n", fragment)
	out := filepath.Join(dir, "manifest.mpd")
	require.NoError(t, os.WriteFile(out, []byte(mpd), 0o644))

	result, err := Validate(context.Background(), input, out)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Preserved)
	assert.Equal(t, 100.0, result.PreservationRate)
	assert.True(t, result.Details[0].MatchedByID)
}

func TestValidateNoCues(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.ts")
	require.NoError(t, os.WriteFile(input, nil, 0o644))
	output := filepath.Join(dir, "output.ts")
	require.NoError(t, os.WriteFile(output, nil, 0o644))

	result, err := Validate(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.PreservationRate)
	assert.Empty(t, result.Details)
}

func TestMatchTimestampFallback(t *testing.T) {
	input := []Cue{
		{Type: models.EventCueOut, Duration: 30, PTS: 10.0, HasPTS: true},
		{Type: models.EventCueIn, PTS: 40.0, HasPTS: true},
	}
	output := []Cue{
		{Type: models.EventCueOut, Duration: 30, PTS: 10.4, HasPTS: true},
		{Type: models.EventCueIn, PTS: 55.0, HasPTS: true},
	}

	result := match(input, output)
	assert.Equal(t, 1, result.Preserved)
	assert.True(t, result.Details[0].Preserved)
	assert.InDelta(t, 0.4, result.Details[0].DriftSeconds, 0.001)
	// the cue-in drifted past the tolerance
	assert.False(t, result.Details[1].Preserved)
}

func TestMatchDoesNotReuseOutputCues(t *testing.T) {
	input := []Cue{
		{Type: models.EventCueOut, Duration: 30},
		{Type: models.EventCueOut, Duration: 30},
	}
	output := []Cue{
		{Type: models.EventCueOut, Duration: 30},
	}

	result := match(input, output)
	assert.Equal(t, 1, result.Preserved)
}
