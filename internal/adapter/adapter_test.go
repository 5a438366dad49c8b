package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splicecast/splicecast/internal/models"
	"github.com/splicecast/splicecast/internal/scte35"
)

func TestPortRegistry(t *testing.T) {
	r := NewPortRegistry()

	require.NoError(t, r.Reserve(9000, "news/srt"))

	err := r.Reserve(9000, "sports/srt")
	require.Error(t, err)
	assert.True(t, models.IsConflict(err))
	assert.Contains(t, err.Error(), "news/srt")

	owner, ok := r.Owner(9000)
	assert.True(t, ok)
	assert.Equal(t, "news/srt", owner)

	r.Release(9000)
	assert.NoError(t, r.Reserve(9000, "sports/srt"))

	// releasing twice is harmless
	r.Release(9000)
	r.Release(9000)
}

func TestSerialQueue_FIFO(t *testing.T) {
	q := newSerialQueue(8)
	defer q.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		// stagger submissions so arrival order is deterministic
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, order, 10)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestSerialQueue_ClosedRejects(t *testing.T) {
	q := newSerialQueue(1)
	q.Close()

	err := q.Do(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestSerialQueue_ContextTimeout(t *testing.T) {
	q := newSerialQueue(1)
	defer q.Close()

	release := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:4.000000,
seg10.ts
#EXTINF:4.000000,
seg11.ts
#EXTINF:4.000000,
seg12.ts
`

func TestOutputDirLayout(t *testing.T) {
	base := t.TempDir()
	dir, err := outputDir(base, "promo1", models.FormatHLS)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "hls", "promo1"), dir)
	assert.DirExists(t, dir)
}

func TestPatchHLSPlaylist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playlist.m3u8")
	require.NoError(t, os.WriteFile(path, []byte(testPlaylist), 0o644))

	out := &models.SCTE35Event{EventID: 1, Type: models.EventCueOut, Duration: 30}
	require.NoError(t, patchHLSPlaylist(path, out))

	in := &models.SCTE35Event{EventID: 2, Type: models.EventCueIn}
	require.NoError(t, patchHLSPlaylist(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	cues := scte35.ParseHLSCues(string(data))
	require.Len(t, cues, 2)
	assert.True(t, cues[0].Out)
	assert.Equal(t, 30.0, cues[0].Duration)
	assert.False(t, cues[1].Out)

	// playlist content is preserved
	assert.Contains(t, string(data), "seg12.ts")
	assert.Contains(t, string(data), "#EXT-X-MEDIA-SEQUENCE:10")
}

func TestPatchHLSPlaylist_KeepsEndlistLast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playlist.m3u8")
	require.NoError(t, os.WriteFile(path, []byte(testPlaylist+"#EXT-X-ENDLIST\n"), 0o644))

	ev := &models.SCTE35Event{EventID: 1, Type: models.EventCueOut, Duration: 10}
	require.NoError(t, patchHLSPlaylist(path, ev))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Less(t, strings.Index(text, "#EXT-X-CUE-OUT"), strings.Index(text, "#EXT-X-ENDLIST"))
}

func TestPatchHLSPlaylist_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playlist.m3u8")
	require.NoError(t, os.WriteFile(path, []byte("not a playlist"), 0o644))

	ev := &models.SCTE35Event{EventID: 1, Type: models.EventCueOut, Duration: 10}
	assert.Error(t, patchHLSPlaylist(path, ev))
}

const testManifest = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic">
  <Period id="0" start="PT0S">
    <AdaptationSet contentType="video">
    </AdaptationSet>
  </Period>
</MPD>
`

func TestPatchDASHManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.mpd")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o644))

	stream := scte35.NewDASHEventStream()
	require.NoError(t, stream.AddSection(scte35.NewCueOut(5, 30), 900000))
	require.NoError(t, patchDASHManifest(path, stream))

	// a second patch replaces the block instead of duplicating it
	require.NoError(t, stream.AddSection(scte35.NewCueIn(6), 3600000))
	require.NoError(t, patchDASHManifest(path, stream))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Equal(t, 1, strings.Count(text, "<EventStream"))
	assert.Equal(t, 2, strings.Count(text, "<Event "))
	assert.Contains(t, text, scte35.DASHSchemeID)
	assert.Less(t, strings.Index(text, "<EventStream"), strings.Index(text, "</Period>"))

	// the embedded sections decode back
	start := strings.Index(text, "<EventStream")
	end := strings.Index(text, "</EventStream>") + len("</EventStream>")
	_, sections, err := scte35.ParseDASHEventStream([]byte(text[start:end]))
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.True(t, sections[0].IsCueOut())
	assert.True(t, sections[1].IsCueIn())
}

func TestPatchDASHManifest_NoPeriod(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.mpd")
	require.NoError(t, os.WriteFile(path, []byte("<MPD></MPD>"), 0o644))

	stream := scte35.NewDASHEventStream()
	require.NoError(t, stream.AddSection(scte35.NewCueOut(1, 5), 0))
	assert.Error(t, patchDASHManifest(path, stream))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Deps{})

	for _, f := range models.AllFormats {
		a, err := r.Get(f)
		require.NoError(t, err)
		assert.Equal(t, f, a.Format())
	}

	_, err := r.Get(models.OutputFormat("webrtc"))
	assert.ErrorIs(t, err, models.ErrUnknownFormat)
}
