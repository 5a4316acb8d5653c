package transfer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		mode EncodingMode
	}{
		{name: "compressible text", data: compressibleText(4096), mode: ModeCompressed},
		{name: "random bytes fall back to raw", data: incompressible(512), mode: ModeRaw},
		{name: "empty file", data: []byte{}, mode: ModeRaw},
		{name: "single byte", data: []byte{0x7f}, mode: ModeRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, enc.Mode)
			assert.Equal(t, ContentHash(tt.data), enc.Hash)

			out, err := Decode(enc.Text, enc.Mode)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(out))
			assert.True(t, Verify(out, enc.Hash))
		})
	}
}

func TestEncode_CompressedIsStrictlyShorter(t *testing.T) {
	data := compressibleText(1000)
	enc, err := Encode(data)
	require.NoError(t, err)

	raw := textEncoding.EncodeToString(data)
	require.Equal(t, ModeCompressed, enc.Mode)
	assert.Less(t, len(enc.Text), len(raw))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("not base64!!", ModeRaw)
	assert.ErrorIs(t, err, ErrDecode)

	// Valid base64 that is not a zlib stream.
	_, err = Decode(textEncoding.EncodeToString([]byte("plain")), ModeCompressed)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Decode("", ModeUnknown)
	assert.True(t, errors.Is(err, ErrDecode))
}

func TestDecodeAuto(t *testing.T) {
	t.Run("compressed payload", func(t *testing.T) {
		data := compressibleText(2000)
		enc, err := Encode(data)
		require.NoError(t, err)

		out, mode, err := DecodeAuto(enc.Text, enc.Hash)
		require.NoError(t, err)
		assert.Equal(t, ModeCompressed, mode)
		assert.Equal(t, data, out)
	})

	t.Run("raw payload", func(t *testing.T) {
		data := []byte("short")
		enc, err := Encode(data)
		require.NoError(t, err)
		require.Equal(t, ModeRaw, enc.Mode)

		out, mode, err := DecodeAuto(enc.Text, "")
		require.NoError(t, err)
		assert.Equal(t, ModeRaw, mode)
		assert.Equal(t, data, out)
	})
}

func TestVerify_IgnoresHexCase(t *testing.T) {
	data := []byte("hello mesh")
	hash := ContentHash(data)

	assert.Len(t, hash, 64)
	assert.Equal(t, strings.ToLower(hash), hash)
	assert.True(t, Verify(data, strings.ToUpper(hash)))
	assert.False(t, Verify([]byte("hello mesH"), hash))
}

func TestParseEncodingMode(t *testing.T) {
	mode, ok := ParseEncodingMode("ZLIB")
	assert.True(t, ok)
	assert.Equal(t, ModeCompressed, mode)

	mode, ok = ParseEncodingMode("raw")
	assert.True(t, ok)
	assert.Equal(t, ModeRaw, mode)

	_, ok = ParseEncodingMode("gzip")
	assert.False(t, ok)
}
