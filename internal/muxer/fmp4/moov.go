package fmp4

import "github.com/streamhub/livecore/internal/corepipe"

// trackInfo holds one track's static description for moov/moof writing.
// Timescale is 90000 for video and the source sample rate for audio
// (spec §4.5.2).
type trackInfo struct {
	id           uint32
	media        corepipe.MediaType
	mime         string
	timescale    uint32
	width        int
	height       int
	channels     int
	sampleRateHz int
	csd          [][]byte
}

func timescaleFor(cfg corepipe.CodecConfig) uint32 {
	if cfg.Media == corepipe.MediaVideo {
		return 90000
	}
	return uint32(cfg.SampleRateHz)
}

func unityMatrix() []byte {
	return concat(
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	)
}

func buildMvhd(nextTrackID uint32) []byte {
	payload := concat(
		u32(0), u32(0), // creation/modification time
		u32(1000),      // timescale
		u32(0),         // duration (unknown, fragmented)
		u32(0x00010000), // rate = 1.0
		u16(0x0100), u16(0), // volume = 1.0, reserved
		u32(0), u32(0), // reserved
		unityMatrix(),
		make([]byte, 24), // pre_defined
		u32(nextTrackID),
	)
	return box("mvhd", concat([]byte{0, 0, 0, 0}, payload))
}

func buildTkhd(t *trackInfo) []byte {
	volume := uint16(0)
	if t.media == corepipe.MediaAudio {
		volume = 0x0100
	}
	payload := concat(
		u32(0), u32(0), // creation/modification
		u32(t.id),
		u32(0),   // reserved
		u32(0),   // duration
		u32(0), u32(0), // reserved
		u16(0), u16(0), // layer, alternate_group
		u16(volume), u16(0),
		unityMatrix(),
		u32(uint32(t.width)<<16),
		u32(uint32(t.height)<<16),
	)
	// flags = track_enabled(1) | track_in_movie(2) | track_in_preview(4) = 7
	return box("tkhd", concat([]byte{0, 0, 0, 7}, payload))
}

func buildMdhd(t *trackInfo) []byte {
	payload := concat(
		u32(0), u32(0),
		u32(t.timescale),
		u32(0),
		u16(0x55C4), // language = "und"
		u16(0),
	)
	return box("mdhd", concat([]byte{0, 0, 0, 0}, payload))
}

func buildHdlr(t *trackInfo) []byte {
	handlerType := "vide"
	name := "livecore video handler"
	if t.media == corepipe.MediaAudio {
		handlerType = "soun"
		name = "livecore audio handler"
	}
	payload := concat(
		u32(0), // pre_defined
		[]byte(handlerType),
		make([]byte, 12), // reserved
		[]byte(name), []byte{0},
	)
	return box("hdlr", concat([]byte{0, 0, 0, 0}, payload))
}

func buildVmhd() []byte {
	return box("vmhd", []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0})
}

func buildSmhd() []byte {
	return box("smhd", []byte{0, 0, 0, 0, 0, 0, 0, 0})
}

func buildDinf() []byte {
	url := box("url ", []byte{0, 0, 0, 1}) // self-contained
	dref := box("dref", concat([]byte{0, 0, 0, 0}, u32(1), url))
	return box("dinf", dref)
}

func buildStbl(t *trackInfo) []byte {
	stsd := box("stsd", concat([]byte{0, 0, 0, 0}, u32(1), buildSampleEntry(t)))
	stts := box("stts", concat([]byte{0, 0, 0, 0}, u32(0)))
	stsc := box("stsc", concat([]byte{0, 0, 0, 0}, u32(0)))
	stsz := box("stsz", concat([]byte{0, 0, 0, 0}, u32(0), u32(0)))
	stco := box("stco", concat([]byte{0, 0, 0, 0}, u32(0)))
	return box("stbl", concat(stsd, stts, stsc, stsz, stco))
}

func buildMinf(t *trackInfo) []byte {
	header := buildVmhd()
	if t.media == corepipe.MediaAudio {
		header = buildSmhd()
	}
	return box("minf", concat(header, buildDinf(), buildStbl(t)))
}

func buildTrak(t *trackInfo) []byte {
	mdia := box("mdia", concat(buildMdhd(t), buildHdlr(t), buildMinf(t)))
	return box("trak", concat(buildTkhd(t), mdia))
}

func buildTrex(t *trackInfo) []byte {
	payload := concat(u32(t.id), u32(1), u32(0), u32(0), u32(0))
	return box("trex", concat([]byte{0, 0, 0, 0}, payload))
}

// buildMoov assembles mvhd, one trak per track, and mvex/trex.
func buildMoov(tracks []*trackInfo) []byte {
	var traks, trexes []byte
	for _, t := range tracks {
		traks = append(traks, buildTrak(t)...)
		trexes = append(trexes, buildTrex(t)...)
	}
	mvex := box("mvex", trexes)
	nextID := uint32(len(tracks) + 1)
	return box("moov", concat(buildMvhd(nextID), traks, mvex))
}
