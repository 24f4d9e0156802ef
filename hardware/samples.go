package hardware

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// EncodeSamples packs samples as little-endian float64, base64 encoded
func EncodeSamples(s []float64) string {
	buf := make([]byte, 8*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeSamples accepts a result that is a base64 string of little-endian
// float64s, a JSON array of numbers, or a single number
func DecodeSamples(result json.RawMessage) ([]float64, error) {
	result = bytes.TrimSpace(result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrBadResult
	}
	switch result[0] {
	case '"':
		var s string
		if err := json.Unmarshal(result, &s); err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResult, err)
		}
		if len(raw)%8 != 0 {
			return nil, fmt.Errorf("%w: %d bytes is not a whole number of float64", ErrBadResult, len(raw))
		}
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return out, nil
	case '[':
		var out []float64
		if err := json.Unmarshal(result, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResult, err)
		}
		return out, nil
	default:
		var f float64
		if err := json.Unmarshal(result, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResult, err)
		}
		return []float64{f}, nil
	}
}
