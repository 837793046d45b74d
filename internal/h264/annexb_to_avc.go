package h264

// ConvertAnnexBToAVC converts H.264 Annex-B data to AVC format.
// Annex-B uses 0x00000001 or 0x000001 as start codes, AVC uses 4-byte
// length prefixes (big-endian).
func ConvertAnnexBToAVC(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	out := make([]byte, 0, len(data)+16)

	offset := 0
	for offset < len(data) {
		startCodePos := findStartCode(data[offset:])
		if startCodePos == -1 {
			// No more start codes, remaining data is the last NAL unit
			if offset < len(data) {
				out = appendLengthPrefixed(out, data[offset:])
			}
			break
		}

		actualPos := offset + startCodePos

		// Data before this start code belongs to the previous NAL unit
		if actualPos > offset {
			out = appendLengthPrefixed(out, data[offset:actualPos])
		}

		offset = actualPos + startCodeLength(data[actualPos:])
	}

	return out, nil
}

// PrependParameterSetsAVCC prepends SPS and PPS NAL units, length-prefixed,
// in front of an AVCC access unit. Decoders recover faster when keyframes
// carry their parameter sets inline.
func PrependParameterSetsAVCC(avcc, sps, pps []byte) []byte {
	out := make([]byte, 0, len(avcc)+len(sps)+len(pps)+8)
	if len(sps) > 0 {
		out = appendLengthPrefixed(out, sps)
	}
	if len(pps) > 0 {
		out = appendLengthPrefixed(out, pps)
	}
	return append(out, avcc...)
}

func appendLengthPrefixed(dst, nalu []byte) []byte {
	if len(nalu) == 0 {
		return dst
	}
	length := uint32(len(nalu))
	dst = append(dst,
		byte(length>>24),
		byte(length>>16),
		byte(length>>8),
		byte(length),
	)
	return append(dst, nalu...)
}

// findStartCode finds the position of the next start code in the data.
// Returns -1 if no start code is found.
func findStartCode(data []byte) int {
	for i := 0; i+3 <= len(data); i++ {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			continue
		}
		if i+4 <= len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
			return i
		}
		if data[i+2] == 0x01 {
			// 3-byte start code, but not the tail of a 4-byte one
			if i == 0 || data[i-1] != 0x00 {
				return i
			}
		}
	}
	return -1
}

// startCodeLength returns the length of the start code at the given position
func startCodeLength(data []byte) int {
	if len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x00 && data[3] == 0x01 {
		return 4
	}
	if len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01 {
		return 3
	}
	return 0
}
