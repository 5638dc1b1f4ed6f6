package fmp4

const (
	trunFlagDataOffset      = 0x000001
	trunFlagSampleDuration  = 0x000100
	trunFlagSampleSize      = 0x000200
	trunFlagSampleFlags     = 0x000400
	trunFlagSampleCTSOffset = 0x000800

	tfhdFlagDefaultBaseIsMoof = 0x020000
)

func buildMfhd(sequenceNumber uint32) []byte {
	return box("mfhd", concat([]byte{0, 0, 0, 0}, u32(sequenceNumber)))
}

func buildTfhd(trackID uint32) []byte {
	flags := tfhdFlagDefaultBaseIsMoof
	return box("tfhd", concat(
		[]byte{0, byte(flags >> 16), byte(flags >> 8), byte(flags)},
		u32(trackID),
	))
}

// buildTfdt emits version 0 (32-bit) when baseMediaDecodeTime fits,
// otherwise version 1 (64-bit), per spec §4.5.2.
func buildTfdt(baseMediaDecodeTime uint64) []byte {
	if baseMediaDecodeTime <= 0xFFFFFFFF {
		return box("tfdt", concat([]byte{0, 0, 0, 0}, u32(uint32(baseMediaDecodeTime))))
	}
	return box("tfdt", concat([]byte{1, 0, 0, 0}, u64(baseMediaDecodeTime)))
}

// sampleInfo is the one-sample-per-fragment unit this muxer writes; trun
// flags are derived from which optional fields are non-null, per spec
// §4.5.2, §8.1's "all samples in a trun agree which fields are present"
// precondition (trivially satisfied with exactly one sample per trun).
type sampleInfo struct {
	durationTicks  uint32
	size           uint32
	isSync         bool
	ctsOffsetTicks int32
	hasCTSOffset   bool
}

func buildTrun(dataOffset int32, s sampleInfo) []byte {
	flags := trunFlagDataOffset | trunFlagSampleDuration | trunFlagSampleSize
	if !s.isSync {
		flags |= trunFlagSampleFlags
	}
	if s.hasCTSOffset {
		flags |= trunFlagSampleCTSOffset
	}

	payload := concat(
		[]byte{0, byte(flags >> 16), byte(flags >> 8), byte(flags)},
		u32(1), // sample_count
		u32(uint32(dataOffset)),
	)
	payload = append(payload, u32(s.durationTicks)...)
	payload = append(payload, u32(s.size)...)
	if flags&trunFlagSampleFlags != 0 {
		// sample_depends_on=0 (unknown), sample_is_non_sync_sample=1, degradation_priority=1
		payload = append(payload, 0x00, 0x01, 0x00, 0x01)
	}
	if flags&trunFlagSampleCTSOffset != 0 {
		payload = append(payload, u32(uint32(s.ctsOffsetTicks))...)
	}
	return box("trun", payload)
}

// buildMoof assembles mfhd + one traf (tfhd/tfdt/trun) for the single
// track/sample this fragment carries. The trun data_offset is the byte offset
// from the start of moof to the first byte of sample data in the
// following mdat; it is filled in after moof's own size is known.
func buildMoof(sequenceNumber uint32, trackID uint32, baseMediaDecodeTime uint64, sample sampleInfo) []byte {
	mfhd := buildMfhd(sequenceNumber)
	tfhd := buildTfhd(trackID)
	tfdt := buildTfdt(baseMediaDecodeTime)

	// moof size = box_header(8) + mfhd + traf(box_header(8)+tfhd+tfdt+trun)
	// data_offset counts from the start of moof to mdat's payload, i.e.
	// moofSize + mdat's 8-byte header.
	trunPlaceholder := buildTrun(0, sample)
	trafSize := 8 + len(tfhd) + len(tfdt) + len(trunPlaceholder)
	moofSize := 8 + len(mfhd) + trafSize
	dataOffset := int32(moofSize + 8)

	trun := buildTrun(dataOffset, sample)
	traf := box("traf", concat(tfhd, tfdt, trun))
	return box("moof", concat(mfhd, traf))
}
