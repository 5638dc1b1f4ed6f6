package fmp4

import (
	"bytes"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/livecore/internal/corepipe"
)

func sampleVideoCfg() corepipe.CodecConfig {
	return corepipe.CodecConfig{
		SourceConfig: corepipe.SourceConfig{
			Media:  corepipe.MediaVideo,
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Mime: "video/h264",
	}
}

func collectFragments(t *testing.T, frameCount int) [][]byte {
	t.Helper()

	var fragments [][]byte
	var moovBytes []byte
	seenInit := false

	m := New(func(p corepipe.Packet) {
		if !seenInit {
			moovBytes = append([]byte{}, p.Data...)
			seenInit = true
			return
		}
		fragments = append(fragments, append([]byte{}, p.Data...))
	})

	id, err := m.AddStream(sampleVideoCfg())
	require.NoError(t, err)

	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0x8C, 0x8D, 0x40}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	m.SetCsd(id, [][]byte{sps, pps})

	require.NoError(t, m.StartStream())

	for i := 0; i < frameCount; i++ {
		pts := int64(i) * 33333
		frame := corepipe.Frame{
			Data:       []byte{0x65, 0x88, 0x84, 0x00, 0x01, 0x02},
			Pts:        pts,
			Dts:        pts,
			IsKeyFrame: i == 0,
			Media:      corepipe.MediaVideo,
			Stream:     id,
		}
		require.NoError(t, m.Write(frame, id))
	}

	require.NotEmpty(t, moovBytes)
	return fragments
}

func TestMuxer_FtypAndMoovPrecedeFragments(t *testing.T) {
	var first []byte
	m := New(func(p corepipe.Packet) {
		if first == nil {
			first = p.Data
		}
	})
	id, err := m.AddStream(sampleVideoCfg())
	require.NoError(t, err)
	m.SetCsd(id, [][]byte{{0x67, 0x42, 0xC0, 0x1E}, {0x68, 0xCE, 0x3C, 0x80}})
	require.NoError(t, m.StartStream())

	require.True(t, bytes.Equal(first[4:8], []byte("ftyp")))
}

func TestMuxer_FragmentRoundTripsWithIndependentParser(t *testing.T) {
	fragments := collectFragments(t, 5)
	require.Len(t, fragments, 5)

	for i, frag := range fragments {
		var parts fmp4.Parts
		err := parts.Unmarshal(frag)
		require.NoErrorf(t, err, "fragment %d", i)
		require.Len(t, parts, 1)
		require.Len(t, parts[0].Tracks, 1)
		require.Len(t, parts[0].Tracks[0].Samples, 1)
	}
}

func TestMuxer_InitSegmentDescribesH264Track(t *testing.T) {
	var moovBytes []byte
	m := New(func(p corepipe.Packet) {
		if moovBytes == nil {
			moovBytes = append([]byte{}, p.Data...)
		}
	})
	id, err := m.AddStream(sampleVideoCfg())
	require.NoError(t, err)
	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0x8C, 0x8D, 0x40}
	pps := []byte{0x68, 0xCE, 0x3C, 0x80}
	m.SetCsd(id, [][]byte{sps, pps})
	require.NoError(t, m.StartStream())

	// moovBytes currently holds ftyp+moov concatenated; fmp4.Init.Unmarshal
	// expects to read from the ftyp box onward via a ReadSeeker.
	init := &fmp4.Init{}
	err = init.Unmarshal(bytes.NewReader(moovBytes))
	require.NoError(t, err)
	require.Len(t, init.Tracks, 1)

	codec, ok := init.Tracks[0].Codec.(*mp4.CodecH264)
	require.True(t, ok)
	require.Equal(t, sps, codec.SPS)
	require.Equal(t, pps, codec.PPS)
}

func TestMuxer_DurationsAccumulateAcrossFragments(t *testing.T) {
	fragments := collectFragments(t, 3)
	var totalDuration uint64
	for _, frag := range fragments {
		var parts fmp4.Parts
		require.NoError(t, parts.Unmarshal(frag))
		for _, s := range parts[0].Tracks[0].Samples {
			totalDuration += uint64(s.Duration)
		}
	}
	// Each sample's duration is the gap since the previous frame: the first
	// fragment's sample has none so its duration is 0, and the next two
	// each carry 33333us at 90kHz timescale (2999 ticks).
	require.Greater(t, totalDuration, uint64(0))
}
