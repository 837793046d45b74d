package h264

import (
	"bytes"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var (
	// Standard Annex-B start codes
	StartCode3 = []byte{0x00, 0x00, 0x01}
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// NALUnitType represents H.264 NAL unit types
type NALUnitType uint8

const (
	NALUnitTypeSlice NALUnitType = 1
	NALUnitTypeIDR   NALUnitType = 5
	NALUnitTypeSEI   NALUnitType = 6
	NALUnitTypeSPS   NALUnitType = 7
	NALUnitTypePPS   NALUnitType = 8
	NALUnitTypeAUD   NALUnitType = 9
)

// FindStartCode locates the position of the first start code in data.
// Returns -1 if no start code is found.
func FindStartCode(data []byte) int {
	if pos := bytes.Index(data, StartCode4); pos != -1 {
		return pos
	}
	return bytes.Index(data, StartCode3)
}

// NALType returns the type of a single NAL unit (without start code)
func NALType(nalu []byte) NALUnitType {
	if len(nalu) == 0 {
		return 0
	}
	return NALUnitType(nalu[0] & 0x1F)
}

// IsKeyFrame reports whether an Annex-B access unit contains an IDR slice
func IsKeyFrame(annexB []byte) bool {
	var au mch264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		// Fall back to a cheap check on the first NAL unit
		pos := FindStartCode(annexB)
		if pos == -1 {
			return false
		}
		off := pos + 3
		if bytes.HasPrefix(annexB[pos:], StartCode4) {
			off = pos + 4
		}
		return off < len(annexB) && NALType(annexB[off:]) == NALUnitTypeIDR
	}
	for _, nalu := range au {
		if NALType(nalu) == NALUnitTypeIDR {
			return true
		}
	}
	return false
}

// ExtractParameterSets extracts SPS and PPS NAL units from an Annex-B access
// unit. Either return value may be nil when the unit carries no parameter sets.
func ExtractParameterSets(annexB []byte) (sps, pps []byte) {
	var au mch264.AnnexB
	if err := au.Unmarshal(annexB); err != nil {
		return nil, nil
	}
	for _, nalu := range au {
		switch NALType(nalu) {
		case NALUnitTypeSPS:
			if sps == nil {
				sps = append([]byte{}, nalu...)
			}
		case NALUnitTypePPS:
			if pps == nil {
				pps = append([]byte{}, nalu...)
			}
		}
	}
	return sps, pps
}
