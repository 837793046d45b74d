package h264

import (
	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// SplitAccessUnits splits an Annex-B elementary stream into access units,
// one per coded frame. Parameter-set and SEI NAL units are attached to the
// slice that follows them. Each returned unit uses 4-byte start codes.
// Slices are assumed to be whole frames; slice-per-frame streams are the
// norm for the capture encoders this tool ingests.
func SplitAccessUnits(data []byte) ([][]byte, error) {
	var stream mch264.AnnexB
	if err := stream.Unmarshal(data); err != nil {
		return nil, err
	}

	var units [][]byte
	var current []byte

	for _, nalu := range stream {
		current = append(current, StartCode4...)
		current = append(current, nalu...)

		switch NALType(nalu) {
		case NALUnitTypeSlice, NALUnitTypeIDR:
			units = append(units, current)
			current = nil
		}
	}
	if len(current) > 0 {
		units = append(units, current)
	}
	return units, nil
}
