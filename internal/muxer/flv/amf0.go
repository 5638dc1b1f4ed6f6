package flv

import (
	"encoding/binary"
	"math"
)

const (
	amf0Number     = 0x00
	amf0Boolean    = 0x01
	amf0String     = 0x02
	amf0ECMAArray  = 0x08
	amf0ObjectEnd  = 0x09
)

func encodeAMF0String(s string) []byte {
	out := make([]byte, 0, 3+len(s))
	out = append(out, amf0String)
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(s)))
	out = append(out, length[:]...)
	out = append(out, s...)
	return out
}

func encodeAMF0Number(v float64) []byte {
	out := make([]byte, 9)
	out[0] = amf0Number
	binary.BigEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func amf0Bool(v bool) []byte {
	b := byte(0)
	if v {
		b = 1
	}
	return []byte{amf0Boolean, b}
}

// amf0Property is one key/value pair inside an ECMA array.
type amf0Property struct {
	Key   string
	Value []byte // a pre-encoded AMF0 value (encodeAMF0Number/encodeAMF0String/amf0Bool)
}

// amf0ECMAArrayOf encodes onMetaData's property map as an AMF0 ECMA array.
func amf0ECMAArrayOf(props []amf0Property) []byte {
	out := []byte{amf0ECMAArray}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(props)))
	out = append(out, count[:]...)
	for _, p := range props {
		var klen [2]byte
		binary.BigEndian.PutUint16(klen[:], uint16(len(p.Key)))
		out = append(out, klen[:]...)
		out = append(out, p.Key...)
		out = append(out, p.Value...)
	}
	out = append(out, 0x00, 0x00, amf0ObjectEnd)
	return out
}
