package ts

// crc32MPEG computes the CRC-32/MPEG-2 checksum PSI sections require:
// polynomial 0x04C11DB7, initial value 0xFFFFFFFF, MSB-first, no output
// XOR, no reflection. This is the specific CRC-32 variant MPEG-TS and DVB
// tables use, distinct from the IEEE/zlib CRC-32 in the standard library's
// hash/crc32 (which reflects bits and XORs the output) — stdlib's
// polynomial table cannot be reused here without reimplementing the
// unreflected variant, so a small dedicated routine is simpler than
// fighting hash/crc32's API to get the MPEG-2 semantics.
func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
