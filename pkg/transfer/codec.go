package transfer

import (
	"bytes"
	"compress/zlib"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// EncodingMode tells the receiver how to turn reassembled text back into bytes
type EncodingMode int

const (
	// ModeUnknown is used when the announcing side did not say (legacy START)
	ModeUnknown EncodingMode = iota
	// ModeCompressed is zlib followed by base64
	ModeCompressed
	// ModeRaw is base64 of the original bytes
	ModeRaw
)

// String returns the wire token of the mode
func (m EncodingMode) String() string {
	switch m {
	case ModeCompressed:
		return "zlib"
	case ModeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// ParseEncodingMode maps a wire token back to a mode.
func ParseEncodingMode(s string) (EncodingMode, bool) {
	switch strings.ToLower(s) {
	case "zlib":
		return ModeCompressed, true
	case "raw":
		return ModeRaw, true
	default:
		return ModeUnknown, false
	}
}

var textEncoding = base64.StdEncoding

// Encoded is the transmittable form of a file.
type Encoded struct {
	Text string
	Mode EncodingMode
	Hash string
}

// Encode compresses data and falls back to the raw encoding when compression
// does not make the text strictly shorter. The hash is always taken over data.
func Encode(data []byte) (Encoded, error) {
	raw := textEncoding.EncodeToString(data)
	hash := ContentHash(data)

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return Encoded{}, fmt.Errorf("create compressor: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return Encoded{}, fmt.Errorf("compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Encoded{}, fmt.Errorf("compress: %w", err)
	}

	compressed := textEncoding.EncodeToString(buf.Bytes())
	if len(compressed) < len(raw) {
		return Encoded{Text: compressed, Mode: ModeCompressed, Hash: hash}, nil
	}
	return Encoded{Text: raw, Mode: ModeRaw, Hash: hash}, nil
}

// Decode reverses Encode for a known mode.
func Decode(text string, mode EncodingMode) ([]byte, error) {
	decoded, err := textEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}

	switch mode {
	case ModeRaw:
		return decoded, nil
	case ModeCompressed:
		zr, err := zlib.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib header: %v", ErrDecode, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: zlib stream: %v", ErrDecode, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported mode %s", ErrDecode, mode)
	}
}

// DecodeAuto decodes text whose mode was never announced. The compressed
// reading is tried first; when an expected hash is known, the candidate that
// matches it wins.
func DecodeAuto(text, expectedHash string) ([]byte, EncodingMode, error) {
	raw, rawErr := Decode(text, ModeRaw)
	if rawErr != nil {
		return nil, ModeUnknown, rawErr
	}

	inflated, zErr := Decode(text, ModeCompressed)
	if zErr != nil {
		return raw, ModeRaw, nil
	}
	if expectedHash != "" && !Verify(inflated, expectedHash) && Verify(raw, expectedHash) {
		return raw, ModeRaw, nil
	}
	return inflated, ModeCompressed, nil
}

// ContentHash returns the lowercase hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of data and compares it with expectedHash,
// ignoring hex case.
func Verify(data []byte, expectedHash string) bool {
	return strings.EqualFold(ContentHash(data), strings.TrimSpace(expectedHash))
}
