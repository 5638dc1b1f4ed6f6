// Package fmp4 implements the fragmented-MP4 muxer (C7): ftyp/moov/mvex
// once at stream start, then (moof, mdat) fragment pairs per write, per
// spec §4.5.2. Box sizes are always plain 32-bit big-endian length
// prefixes (the 64-bit extended-size escape is reserved, never emitted).
package fmp4

import "encoding/binary"

// box wraps payload in a standard ISO BMFF box: a 4-byte big-endian size
// (including these 8 header bytes) followed by the 4-character type.
func box(fourcc string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], fourcc)
	return append(out, payload...)
}

func u16(v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return b[:]
}

func u32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func concat(parts ...[]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
