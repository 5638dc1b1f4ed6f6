package encoder

import (
	"encoding/binary"
	"sync"
)

// H.264 NAL unit types relevant to CSD handling.
const (
	h264NALTypeIDR = 5
	h264NALTypeSPS = 7
	h264NALTypePPS = 8
)

// H.265 NAL unit types relevant to CSD handling.
const (
	h265NALTypeBLAWLP   = 16
	h265NALTypeCRANUT   = 21
	h265NALTypeVPS      = 32
	h265NALTypeSPS      = 33
	h265NALTypePPS      = 34
)

// ParamSetStore extracts and caches H.264 SPS/PPS and H.265 VPS/SPS/PPS so
// the encoder wrapper can normalize CSD across encoders that only emit
// parameter sets in the codec-config buffer (spec §9, "CSD handling
// rationale").
type ParamSetStore struct {
	mu sync.RWMutex

	h264SPS, h264PPS         []byte
	h265VPS, h265SPS, h265PPS []byte
}

// NewParamSetStore creates an empty store.
func NewParamSetStore() *ParamSetStore { return &ParamSetStore{} }

// ExtractFromAnnexB scans Annex-B data for parameter-set NAL units and
// caches any new ones, returning true if the cache changed.
func (s *ParamSetStore) ExtractFromAnnexB(data []byte, isH265 bool) bool {
	return s.ExtractFromNALUs(ParseAnnexBNALUs(data), isH265)
}

// ExtractFromNALUs is ExtractFromAnnexB given pre-split NAL units.
func (s *ParamSetStore) ExtractFromNALUs(nalus [][]byte, isH265 bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if isH265 {
			switch (nalu[0] >> 1) & 0x3F {
			case h265NALTypeVPS:
				if !bytesEqual(s.h265VPS, nalu) {
					s.h265VPS = copyBytes(nalu)
					changed = true
				}
			case h265NALTypeSPS:
				if !bytesEqual(s.h265SPS, nalu) {
					s.h265SPS = copyBytes(nalu)
					changed = true
				}
			case h265NALTypePPS:
				if !bytesEqual(s.h265PPS, nalu) {
					s.h265PPS = copyBytes(nalu)
					changed = true
				}
			}
			continue
		}
		switch nalu[0] & 0x1F {
		case h264NALTypeSPS:
			if !bytesEqual(s.h264SPS, nalu) {
				s.h264SPS = copyBytes(nalu)
				changed = true
			}
		case h264NALTypePPS:
			if !bytesEqual(s.h264PPS, nalu) {
				s.h264PPS = copyBytes(nalu)
				changed = true
			}
		}
	}
	return changed
}

// SplitHEVCCsdBlob splits a single HEVC CSD blob at 4-byte Annex-B start
// codes into {VPS, SPS, PPS} in that slot order, per spec §4.4: "For HEVC,
// the encoder splits a single CSD blob ... before handing the list to the
// muxer."
func SplitHEVCCsdBlob(blob []byte) [][]byte {
	nalus := ParseAnnexBNALUs(blob)
	var vps, sps, pps []byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch (nalu[0] >> 1) & 0x3F {
		case h265NALTypeVPS:
			vps = nalu
		case h265NALTypeSPS:
			sps = nalu
		case h265NALTypePPS:
			pps = nalu
		}
	}
	var out [][]byte
	if vps != nil {
		out = append(out, vps)
	}
	if sps != nil {
		out = append(out, sps)
	}
	if pps != nil {
		out = append(out, pps)
	}
	return out
}

// StripInlineCsd removes a leading concatenation of csd from payload when
// payload begins with exactly that sequence, so the muxer always receives a
// "clean" access unit without inline parameter sets (spec §4.4).
func StripInlineCsd(payload []byte, csd [][]byte) []byte {
	offset := 0
	for _, c := range csd {
		if offset+len(c) > len(payload) || !bytesEqual(payload[offset:offset+len(c)], c) {
			return payload
		}
		offset += len(c)
	}
	return payload[offset:]
}

// IsH264IDR reports whether Annex-B data contains an H.264 IDR slice.
func IsH264IDR(data []byte) bool {
	for _, nalu := range ParseAnnexBNALUs(data) {
		if len(nalu) > 0 && nalu[0]&0x1F == h264NALTypeIDR {
			return true
		}
	}
	return false
}

// IsH265IDR reports whether Annex-B data contains an H.265 IDR/CRA/BLA
// slice (i.e. a keyframe).
func IsH265IDR(data []byte) bool {
	for _, nalu := range ParseAnnexBNALUs(data) {
		if len(nalu) == 0 {
			continue
		}
		t := (nalu[0] >> 1) & 0x3F
		if t >= h265NALTypeBLAWLP && t <= h265NALTypeCRANUT {
			return true
		}
	}
	return false
}

// ParseAnnexBNALUs splits Annex-B data into individual NAL units, handling
// both 3-byte and 4-byte start codes.
func ParseAnnexBNALUs(data []byte) [][]byte {
	if len(data) < 4 {
		return nil
	}
	var nalus [][]byte
	start := -1
	for i := 0; i < len(data)-2; i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		startCodeLen := 0
		switch {
		case data[i+2] == 0x01:
			startCodeLen = 3
		case i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01:
			startCodeLen = 4
		default:
			continue
		}
		if start >= 0 {
			nalus = append(nalus, data[start:i])
		}
		start = i + startCodeLen
		i += startCodeLen - 1
	}
	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// BuildAnnexB concatenates NAL units with 4-byte Annex-B start codes.
func BuildAnnexB(nalus [][]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += 4 + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

const aacAudioObjectTypeLC = 2

// aacSamplingFreqIndex maps a sample rate to the 4-bit MPEG-4 sampling
// frequency index table (ISO/IEC 14496-3 table 1.16). Unmatched rates fall
// back to 44100's index rather than the explicit-frequency escape (0xF),
// which this wrapper doesn't encode.
func aacSamplingFreqIndex(sampleRateHz int) int {
	table := []int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}
	for i, rate := range table {
		if rate == sampleRateHz {
			return i
		}
	}
	return 4
}

// BuildAACAudioSpecificConfig builds the 2-byte MPEG-4 AudioSpecificConfig
// (AAC LC, no SBR/PS extension) muxers embed as mp4a/esds config and FLV's
// legacy AAC sequence header (spec §4.4, §9 "CSD handling rationale").
func BuildAACAudioSpecificConfig(sampleRateHz, channels int) []byte {
	idx := aacSamplingFreqIndex(sampleRateHz)
	chanCfg := channels
	if chanCfg <= 0 || chanCfg > 7 {
		chanCfg = 2
	}
	b0 := byte(aacAudioObjectTypeLC<<3) | byte(idx>>1)
	b1 := byte(idx&0x1)<<7 | byte(chanCfg<<3)
	return []byte{b0, b1}
}

// BuildOpusIDHeader builds a minimal 19-byte Opus identification header
// (RFC 7845 §5.1) with channel mapping family 0 (implicit mono/stereo
// ordering, spec §9(b)) and no channel mapping table.
func BuildOpusIDHeader(channels, sampleRateHz int) []byte {
	const preSkip = 312
	h := make([]byte, 19)
	copy(h[0:8], "OpusHead")
	h[8] = 1 // version
	h[9] = byte(channels)
	binary.LittleEndian.PutUint16(h[10:12], preSkip)
	binary.LittleEndian.PutUint32(h[12:16], uint32(sampleRateHz))
	binary.LittleEndian.PutUint16(h[16:18], 0) // output gain
	h[18] = 0                                  // channel mapping family
	return h
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
