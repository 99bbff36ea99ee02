package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// DecodeBase64PCM decodes base64 text carrying 16-bit signed little-endian
// PCM into normalized float samples.
func DecodeBase64PCM(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return DecodePCM(raw)
}

// DecodePCM converts 16-bit signed little-endian PCM bytes to float samples,
// dividing each sample by 32768.
func DecodePCM(raw []byte) ([]float32, error) {
	// Ensure even byte count for int16 alignment
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 {
		return nil, ErrNoSamples
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}

// FloatToInt16 converts normalized samples back to int16, clipping to range.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
