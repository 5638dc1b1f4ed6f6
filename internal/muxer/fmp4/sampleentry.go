package fmp4

import "github.com/streamhub/livecore/internal/corepipe"

// buildAVCConfigRecord builds the avcC box payload from
// cached {SPS, PPS} CSD.
func buildAVCConfigRecord(csd [][]byte) []byte {
	var sps, pps []byte
	if len(csd) > 0 {
		sps = csd[0]
	}
	if len(csd) > 1 {
		pps = csd[1]
	}
	profile, compat, level := byte(0x42), byte(0x00), byte(0x1F)
	if len(sps) >= 4 {
		profile, compat, level = sps[1], sps[2], sps[3]
	}
	out := []byte{1, profile, compat, level, 0xFF, 0xE1}
	out = appendLenPrefixed16(out, sps)
	out = append(out, 0x01)
	out = appendLenPrefixed16(out, pps)
	return out
}

// buildHEVCConfigRecord builds a minimal hvcC box payload carrying the
// cached {VPS, SPS, PPS} as three one-NAL-unit arrays. Profile/tier/level
// fields are zeroed: a conforming demuxer only needs the NAL arrays to
// reconstruct the bitstream's parameter sets, and this library never
// negotiates HEVC profile capability itself (that happens at Session.Open
// time, out of scope here).
func buildHEVCConfigRecord(csd [][]byte) []byte {
	var vps, sps, pps []byte
	switch len(csd) {
	case 3:
		vps, sps, pps = csd[0], csd[1], csd[2]
	case 2:
		sps, pps = csd[0], csd[1]
	}

	out := make([]byte, 22)
	out[0] = 1 // configurationVersion
	// bytes 1-20 (profile/tier/level, compatibility flags, constraint
	// flags, chroma/bit-depth fields) left zero; byte 21 = numTemporalLayers<<3|...
	out[21] = 0x0F // reserved(1111)|lengthSizeMinusOne(3)=11 => 4-byte lengths
	out = append(out, 3)
	type nalArray struct {
		nalType byte
		data    []byte
	}
	for _, a := range []nalArray{{32, vps}, {33, sps}, {34, pps}} {
		out = append(out, 0x80|a.nalType, 0x00, 0x01) // array_completeness|reserved|NAL_unit_type, numNalus=1
		out = appendLenPrefixed16(out, a.data)
	}
	return out
}

func appendLenPrefixed16(out, data []byte) []byte {
	out = append(out, u16(uint16(len(data)))...)
	return append(out, data...)
}

// buildEsds builds a minimal MPEG-4 ES_Descriptor carrying the AAC
// AudioSpecificConfig as DecoderSpecificInfo.
func buildEsds(asc []byte) []byte {
	decoderSpecific := descriptor(0x05, asc)
	decoderConfig := descriptor(0x04, concat(
		[]byte{0x40, 0x15}, // objectTypeIndication=AAC, streamType<<2|upStream|reserved
		[]byte{0x00, 0x00, 0x00}, // bufferSizeDB
		u32(0), u32(0), // maxBitrate, avgBitrate
		decoderSpecific,
	))
	slConfig := descriptor(0x06, []byte{0x02})
	esDescriptor := descriptor(0x03, concat(u16(0), []byte{0x00}, decoderConfig, slConfig))
	return box("esds", concat(u32(0), esDescriptor))
}

// descriptor wraps payload in an MPEG-4 descriptor tag with a single-byte
// length (every payload this library emits fits in 127 bytes).
func descriptor(tag byte, payload []byte) []byte {
	return concat([]byte{tag, byte(len(payload))}, payload)
}

// buildDOps builds the Opus identification header box (dOps), deciding
// spec §9 open question (b): when the source reports no explicit
// channel-mapping table, ChannelMappingFamily is emitted as 0 (mono/
// stereo, implicit Vorbis channel order), matching the RFC 7845 default
// for the common 1-2 channel case this library's audio pipeline targets.
func buildDOps(channels int, preSkip uint16, sampleRate uint32) []byte {
	payload := []byte{
		0,                 // Version
		byte(channels),
		byte(preSkip >> 8), byte(preSkip),
		byte(sampleRate >> 24), byte(sampleRate >> 16), byte(sampleRate >> 8), byte(sampleRate),
		0, 0, // OutputGain
		0, // ChannelMappingFamily = 0
	}
	return box("dOps", payload)
}

// buildSampleEntry dispatches to the codec-specific VisualSampleEntry or
// AudioSampleEntry box for one track.
func buildSampleEntry(t *trackInfo) []byte {
	if t.media == corepipe.MediaVideo {
		return buildVisualSampleEntry(t)
	}
	return buildAudioSampleEntry(t)
}

func buildVisualSampleEntry(t *trackInfo) []byte {
	fourcc := "avc1"
	var configBox []byte
	switch t.mime {
	case "video/hevc":
		fourcc = "hvc1"
		configBox = box("hvcC", buildHEVCConfigRecord(t.csd))
	default:
		configBox = box("avcC", buildAVCConfigRecord(t.csd))
	}

	payload := concat(
		make([]byte, 6), u16(1), // reserved(6), data_reference_index=1
		make([]byte, 16), // pre_defined/reserved
		u16(uint16(t.width)), u16(uint16(t.height)),
		u32(0x00480000), u32(0x00480000), // horiz/vert resolution = 72dpi
		u32(0), u16(1), // reserved, frame_count
		make([]byte, 32), // compressorname
		u16(0x0018), u16(0xFFFF), // depth, pre_defined
		configBox,
	)
	return box(fourcc, payload)
}

func buildAudioSampleEntry(t *trackInfo) []byte {
	if t.mime == "audio/opus" {
		payload := concat(
			make([]byte, 6), u16(1),
			u32(0), u32(0),
			u16(uint16(t.channels)), u16(16), u16(0), u16(0),
			u32(uint32(t.sampleRateHz)<<16),
			buildDOps(t.channels, 312, uint32(t.sampleRateHz)),
		)
		return box("Opus", payload)
	}

	var asc []byte
	if len(t.csd) > 0 {
		asc = t.csd[0]
	}
	payload := concat(
		make([]byte, 6), u16(1),
		u32(0), u32(0),
		u16(uint16(t.channels)), u16(16), u16(0), u16(0),
		u32(uint32(t.sampleRateHz)<<16),
		buildEsds(asc),
	)
	return box("mp4a", payload)
}
