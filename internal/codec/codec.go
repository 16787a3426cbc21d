// Package codec turns raw PCM frames into transport-safe strings.
package codec

import "encoding/base64"

// Encoder is a lossless, deterministic frame encoding.
type Encoder interface {
	Encode(frame []byte) string
	Decode(s string) ([]byte, error)
}

// Base64 encodes with the standard padded alphabet and no line wrapping.
type Base64 struct{}

func (Base64) Encode(frame []byte) string {
	return base64.StdEncoding.EncodeToString(frame)
}

func (Base64) Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
