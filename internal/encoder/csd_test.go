package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	h264SPS    = []byte{0x67, 0x42, 0x00, 0x1f, 0x96, 0x54, 0x05, 0x01}
	h264PPS    = []byte{0x68, 0xce, 0x3c, 0x80}
	h264IDR    = []byte{0x65, 0x88, 0x84, 0x00, 0x00, 0x03}
	h264NonIDR = []byte{0x41, 0x9a, 0x00, 0x00}

	h265VPS    = []byte{0x40, 0x01, 0x0c, 0x01, 0xff, 0xff}
	h265SPS    = []byte{0x42, 0x01, 0x01, 0x01, 0x60, 0x00}
	h265PPS    = []byte{0x44, 0x01, 0xc1, 0x72, 0xb4, 0x62}
	h265IDR    = []byte{0x26, 0x01, 0xaf, 0x00, 0x00}
)

func TestParamSetStore_ExtractH264(t *testing.T) {
	s := NewParamSetStore()
	data := BuildAnnexB([][]byte{h264SPS, h264PPS, h264IDR})

	require.True(t, s.ExtractFromAnnexB(data, false))
	require.False(t, s.ExtractFromAnnexB(data, false), "re-extracting identical params is a no-op")

	assert.True(t, IsH264IDR(BuildAnnexB([][]byte{h264IDR})))
	assert.False(t, IsH264IDR(BuildAnnexB([][]byte{h264NonIDR})))
}

func TestParamSetStore_ExtractH265(t *testing.T) {
	s := NewParamSetStore()
	data := BuildAnnexB([][]byte{h265VPS, h265SPS, h265PPS, h265IDR})
	require.True(t, s.ExtractFromAnnexB(data, true))
	assert.True(t, IsH265IDR(BuildAnnexB([][]byte{h265IDR})))
}

func TestSplitHEVCCsdBlob_OrdersVPSThenSPSThenPPS(t *testing.T) {
	// Deliberately out of order to verify the splitter reorders to VPS,SPS,PPS.
	blob := BuildAnnexB([][]byte{h265PPS, h265VPS, h265SPS})
	parts := SplitHEVCCsdBlob(blob)
	require.Len(t, parts, 3)
	assert.Equal(t, h265VPS, parts[0])
	assert.Equal(t, h265SPS, parts[1])
	assert.Equal(t, h265PPS, parts[2])
}

func TestStripInlineCsd(t *testing.T) {
	csd := [][]byte{h264SPS, h264PPS}
	payload := append(append(append([]byte{}, h264SPS...), h264PPS...), h264IDR...)

	stripped := StripInlineCsd(payload, csd)
	assert.Equal(t, h264IDR, stripped)

	// Payload without the inline CSD prefix is returned unchanged.
	assert.Equal(t, h264IDR, StripInlineCsd(h264IDR, csd))
}

func TestParseAnnexBNALUs_HandlesMixedStartCodes(t *testing.T) {
	data := append([]byte{0x00, 0x00, 0x01}, h264SPS...)
	data = append(data, 0x00, 0x00, 0x00, 0x01)
	data = append(data, h264PPS...)

	nalus := ParseAnnexBNALUs(data)
	require.Len(t, nalus, 2)
	assert.Equal(t, h264SPS, nalus[0])
	assert.Equal(t, h264PPS, nalus[1])
}
