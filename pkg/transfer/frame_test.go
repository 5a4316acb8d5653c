package transfer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCount(t *testing.T) {
	assert.Equal(t, 4, ChunkCount(600, 180))
	assert.Equal(t, 1, ChunkCount(180, 180))
	assert.Equal(t, 2, ChunkCount(181, 180))
	assert.Equal(t, 1, ChunkCount(0, 180))
	assert.Equal(t, 0, ChunkCount(10, 0))
}

func TestSplitChunks(t *testing.T) {
	text := strings.Repeat("A", 600)
	chunks := SplitChunks(text, 180)

	require.Len(t, chunks, 4)
	for _, c := range chunks[:3] {
		assert.Len(t, c, 180)
	}
	assert.Len(t, chunks[3], 60)
	assert.Equal(t, text, strings.Join(chunks, ""))

	assert.Equal(t, []string{""}, SplitChunks("", 180))
}

func TestFramer_BuildAndParse(t *testing.T) {
	f := NewFramer(DefaultMaxMessageSize)
	hash := ContentHash([]byte("x"))

	t.Run("start", func(t *testing.T) {
		msg, err := f.BuildStart("report.txt", 4, hash, ModeCompressed)
		require.NoError(t, err)
		assert.Equal(t, "START report.txt 4 "+hash+" zlib", msg)

		frame := Parse(msg)
		assert.Equal(t, FrameStart, frame.Kind)
		assert.Equal(t, "report.txt", frame.FileName)
		assert.Equal(t, 4, frame.Total)
		assert.Equal(t, hash, frame.Hash)
		assert.Equal(t, ModeCompressed, frame.Mode)
	})

	t.Run("start without hash keeps mode", func(t *testing.T) {
		msg, err := f.BuildStart("a.bin", 2, "", ModeRaw)
		require.NoError(t, err)
		assert.Equal(t, "START a.bin 2 - raw", msg)

		frame := Parse(msg)
		assert.Equal(t, FrameStart, frame.Kind)
		assert.Empty(t, frame.Hash)
		assert.Equal(t, ModeRaw, frame.Mode)
	})

	t.Run("legacy start", func(t *testing.T) {
		frame := Parse("START notes.md")
		assert.Equal(t, FrameStart, frame.Kind)
		assert.Equal(t, "notes.md", frame.FileName)
		assert.Zero(t, frame.Total)
		assert.Equal(t, ModeUnknown, frame.Mode)
	})

	t.Run("chunk payload is verbatim", func(t *testing.T) {
		payload := "eJzLSM3JyVcozy/KSQEAGgQEXQ=="
		msg, err := f.BuildChunk("report.txt", 3, 12, payload)
		require.NoError(t, err)
		assert.Equal(t, "CHUNK 3/12 report.txt "+payload, msg)

		frame := Parse(msg)
		assert.Equal(t, FrameChunk, frame.Kind)
		assert.Equal(t, 3, frame.Index)
		assert.Equal(t, 12, frame.Total)
		assert.Equal(t, payload, frame.Payload)
	})

	t.Run("end with hash", func(t *testing.T) {
		msg, err := f.BuildEnd("report.txt", hash)
		require.NoError(t, err)
		assert.Equal(t, "END report.txt HASH: "+hash, msg)

		frame := Parse(msg)
		assert.Equal(t, FrameEnd, frame.Kind)
		assert.Equal(t, hash, frame.Hash)
	})

	t.Run("end uppercase hash is normalised", func(t *testing.T) {
		frame := Parse("END report.txt HASH: " + strings.ToUpper(hash))
		assert.Equal(t, FrameEnd, frame.Kind)
		assert.Equal(t, hash, frame.Hash)
	})

	t.Run("legacy end", func(t *testing.T) {
		frame := Parse("END report.txt")
		assert.Equal(t, FrameEnd, frame.Kind)
		assert.Empty(t, frame.Hash)
	})

	t.Run("ack", func(t *testing.T) {
		msg, err := f.BuildAck("report.txt", 2, 4)
		require.NoError(t, err)
		assert.Equal(t, "report.txt: 2/4 confirmed", msg)

		frame := Parse(msg)
		assert.Equal(t, FrameAck, frame.Kind)
		assert.Equal(t, "report.txt", frame.FileName)
		assert.Equal(t, 2, frame.Index)
		assert.Equal(t, 4, frame.Total)
	})

	t.Run("request", func(t *testing.T) {
		msg, err := f.BuildRequest("report.txt", 7, 10)
		require.NoError(t, err)
		assert.Equal(t, "REQ 7/10 report.txt", msg)

		frame := Parse(msg)
		assert.Equal(t, FrameRequestMissing, frame.Kind)
		assert.Equal(t, 7, frame.Index)
		assert.Equal(t, 10, frame.Total)
	})
}

func TestFramer_RejectsOversizedFrames(t *testing.T) {
	f := NewFramer(40)
	_, err := f.BuildChunk("report.txt", 1, 1, strings.Repeat("A", 64))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = NewFramer(0).BuildChunk("report.txt", 1, 1, strings.Repeat("A", 64))
	assert.NoError(t, err)
}

func TestFramer_RejectsInvalidFields(t *testing.T) {
	f := NewFramer(0)

	_, err := f.BuildChunk("two words", 1, 1, "x")
	assert.ErrorIs(t, err, ErrInvalidFrameField)

	_, err = f.BuildChunk("a.txt", 0, 1, "x")
	assert.ErrorIs(t, err, ErrInvalidFrameField)

	_, err = f.BuildAck("a.txt", 3, 2)
	assert.ErrorIs(t, err, ErrInvalidFrameField)

	_, err = f.BuildEnd("a.txt", "not-hex")
	assert.ErrorIs(t, err, ErrInvalidFrameField)
}

func TestFramer_FitChunkSize(t *testing.T) {
	f := NewFramer(DefaultMaxMessageSize)

	size, err := f.FitChunkSize("a.txt", 600, DefaultChunkSize)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, size)

	longName := strings.Repeat("n", 60) + ".txt"
	size, err = f.FitChunkSize(longName, 5000, DefaultChunkSize)
	require.NoError(t, err)
	assert.Less(t, size, DefaultChunkSize)

	total := ChunkCount(5000, size)
	widest, err := f.BuildChunk(longName, total, total, strings.Repeat("A", size))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(widest), DefaultMaxMessageSize)

	_, err = f.FitChunkSize(strings.Repeat("n", 220), 5000, DefaultChunkSize)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestParse_Unrecognized(t *testing.T) {
	inputs := []string{
		"",
		"hello there",
		"CHUNK",
		"CHUNK x/4 a.txt AAAA",
		"CHUNK 5/4 a.txt AAAA",
		"CHUNK 0/4 a.txt AAAA",
		"START",
		"START a.txt zero",
		"START a.txt 4 nothex",
		"START a.txt 4 - gzip",
		"END",
		"END a.txt HASH:",
		"END a.txt CHECKSUM: abcd",
		"REQ 1/4",
		": 1/4 confirmed",
		"a.txt: 1-4 confirmed",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			frame := Parse(in)
			assert.Equal(t, FrameUnrecognized, frame.Kind)
			assert.NotEmpty(t, frame.Reason)
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "report.txt", SanitizeFileName("/tmp/dir/report.txt"))
	assert.Equal(t, "my_notes.md", SanitizeFileName("my notes.md"))
	assert.Equal(t, "", SanitizeFileName("/"))
}
