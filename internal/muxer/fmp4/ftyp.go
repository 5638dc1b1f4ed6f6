package fmp4

// buildFtyp emits ftyp(isom, minor=512, compat=[isom, iso6, iso2, avc1, mp41])
// exactly as spec §4.5.2 pins it down.
func buildFtyp() []byte {
	payload := concat(
		[]byte("isom"),
		u32(512),
		[]byte("isom"), []byte("iso6"), []byte("iso2"), []byte("avc1"), []byte("mp41"),
	)
	return box("ftyp", payload)
}
