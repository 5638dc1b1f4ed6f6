package ts

const (
	pesStreamIDVideo = 0xE0
	pesStreamIDAudio = 0xC0
)

// encodeTimestamp lays out a 33-bit PTS or DTS value into the standard
// 5-byte marker-bit-interleaved PES timestamp field, tagged with prefix
// (0x2 for PTS-only, 0x3 for PTS-with-DTS, 0x1 for the DTS that follows).
func encodeTimestamp(prefix byte, value uint64) [5]byte {
	v := value & ((1 << 33) - 1)
	p1 := byte((v >> 30) & 0x07)
	p2 := uint16((v >> 15) & 0x7FFF)
	p3 := uint16(v & 0x7FFF)

	var out [5]byte
	out[0] = (prefix << 4) | (p1 << 1) | 1
	out[1] = byte(p2 >> 7)
	out[2] = byte((p2&0x7F)<<1) | 1
	out[3] = byte(p3 >> 7)
	out[4] = byte((p3&0x7F)<<1) | 1
	return out
}

// usToTicks90k converts a microsecond timestamp to the 90kHz clock PES
// PTS/DTS and MPEG-TS timescales use.
func usToTicks90k(us int64) int64 {
	return us * 9 / 100
}

// buildPES packages one elementary-stream access unit into a PES packet:
// start code, stream id, optional PTS/DTS, then payload.
func buildPES(streamID byte, payload []byte, ptsUs int64, dtsUs int64, hasDts bool) []byte {
	pts90 := uint64(usToTicks90k(ptsUs))

	var tsField []byte
	flags := byte(0x80) // PTS present
	if hasDts {
		flags = 0xC0 // PTS and DTS present
		ptsBytes := encodeTimestamp(0x3, pts90)
		dtsBytes := encodeTimestamp(0x1, uint64(usToTicks90k(dtsUs)))
		tsField = append(tsField, ptsBytes[:]...)
		tsField = append(tsField, dtsBytes[:]...)
	} else {
		ptsBytes := encodeTimestamp(0x2, pts90)
		tsField = append(tsField, ptsBytes[:]...)
	}

	optionalHeader := []byte{
		0x84, // '10' marker, data_alignment_indicator=1
		flags,
		byte(len(tsField)),
	}
	optionalHeader = append(optionalHeader, tsField...)

	packetLength := len(optionalHeader) + len(payload)
	lengthField := [2]byte{0, 0}
	if packetLength <= 0xFFFF {
		lengthField[0] = byte(packetLength >> 8)
		lengthField[1] = byte(packetLength)
	} // else leave 0: PES_packet_length unbounded, legal for video streams

	pes := make([]byte, 0, 6+len(optionalHeader)+len(payload))
	pes = append(pes, 0x00, 0x00, 0x01, streamID)
	pes = append(pes, lengthField[0], lengthField[1])
	pes = append(pes, optionalHeader...)
	pes = append(pes, payload...)
	return pes
}
