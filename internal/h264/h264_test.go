package h264

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x68, 0xce, 0x38, 0x80}

var testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x10}

var testPFrame = []byte{0x41, 0x9a, 0x24, 0x8c, 0x09}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, StartCode4...)
		out = append(out, n...)
	}
	return out
}

func TestConvertAnnexBToAVC(t *testing.T) {
	data := annexB(testSPS, testPPS, testIDR)

	avcc, err := ConvertAnnexBToAVC(data)
	require.NoError(t, err)

	// Each NAL unit gains a 4-byte length prefix in place of its start code
	expectedLen := len(testSPS) + len(testPPS) + len(testIDR) + 3*4
	assert.Len(t, avcc, expectedLen)

	// First length prefix matches the SPS size
	spsLen := int(avcc[0])<<24 | int(avcc[1])<<16 | int(avcc[2])<<8 | int(avcc[3])
	assert.Equal(t, len(testSPS), spsLen)
	assert.Equal(t, testSPS, avcc[4:4+len(testSPS)])
}

func TestConvertAnnexBToAVCShortStartCodes(t *testing.T) {
	var data []byte
	data = append(data, StartCode3...)
	data = append(data, testSPS...)
	data = append(data, StartCode3...)
	data = append(data, testPPS...)

	avcc, err := ConvertAnnexBToAVC(data)
	require.NoError(t, err)
	assert.Len(t, avcc, len(testSPS)+len(testPPS)+2*4)
}

func TestConvertAnnexBToAVCEmpty(t *testing.T) {
	avcc, err := ConvertAnnexBToAVC(nil)
	require.NoError(t, err)
	assert.Empty(t, avcc)
}

func TestPrependParameterSetsAVCC(t *testing.T) {
	avcc, err := ConvertAnnexBToAVC(annexB(testIDR))
	require.NoError(t, err)

	withPS := PrependParameterSetsAVCC(avcc, testSPS, testPPS)
	assert.Len(t, withPS, len(avcc)+len(testSPS)+len(testPPS)+2*4)
	assert.Equal(t, avcc, withPS[len(withPS)-len(avcc):])
}

func TestIsKeyFrame(t *testing.T) {
	assert.True(t, IsKeyFrame(annexB(testSPS, testPPS, testIDR)))
	assert.True(t, IsKeyFrame(annexB(testIDR)))
	assert.False(t, IsKeyFrame(annexB(testPFrame)))
	assert.False(t, IsKeyFrame(nil))
}

func TestExtractParameterSets(t *testing.T) {
	sps, pps := ExtractParameterSets(annexB(testSPS, testPPS, testIDR))
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	sps, pps = ExtractParameterSets(annexB(testPFrame))
	assert.Nil(t, sps)
	assert.Nil(t, pps)
}

func TestSplitAccessUnits(t *testing.T) {
	stream := annexB(testSPS, testPPS, testIDR, testPFrame, testPFrame)

	units, err := SplitAccessUnits(stream)
	require.NoError(t, err)
	require.Len(t, units, 3)

	// Parameter sets travel with the keyframe that follows them
	assert.Equal(t, annexB(testSPS, testPPS, testIDR), units[0])
	assert.True(t, IsKeyFrame(units[0]))

	assert.Equal(t, annexB(testPFrame), units[1])
	assert.False(t, IsKeyFrame(units[1]))
}

func TestNALType(t *testing.T) {
	assert.Equal(t, NALUnitTypeSPS, NALType(testSPS))
	assert.Equal(t, NALUnitTypePPS, NALType(testPPS))
	assert.Equal(t, NALUnitTypeIDR, NALType(testIDR))
	assert.Equal(t, NALUnitTypeSlice, NALType(testPFrame))
}
