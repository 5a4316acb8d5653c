package transfer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrFrameTooLarge is returned when a built frame would not fit in one transport message
	ErrFrameTooLarge = errors.New("frame exceeds transport message size")

	// ErrInvalidFrameField is returned when a builder is given a value the grammar cannot carry
	ErrInvalidFrameField = errors.New("invalid frame field")
)

// MinChunkPayload is the smallest chunk payload worth sending
const MinChunkPayload = 16

// Framer builds frames bounded by the transport's message ceiling. A zero
// MaxMessageSize disables the bound.
type Framer struct {
	MaxMessageSize int
}

// NewFramer returns a Framer enforcing maxMessageSize.
func NewFramer(maxMessageSize int) Framer {
	return Framer{MaxMessageSize: maxMessageSize}
}

// BuildStart announces a transfer. With total == 0 only the name is sent.
func (f Framer) BuildStart(fileName string, total int, hash string, mode EncodingMode) (string, error) {
	if err := checkName(fileName); err != nil {
		return "", err
	}
	if total < 0 {
		return "", fmt.Errorf("%w: total %d", ErrInvalidFrameField, total)
	}
	if hash != "" && !isHex(hash) {
		return "", fmt.Errorf("%w: hash %q", ErrInvalidFrameField, hash)
	}

	parts := []string{tagStart, fileName}
	if total > 0 {
		parts = append(parts, strconv.Itoa(total))
		if hash != "" || mode != ModeUnknown {
			if hash == "" {
				hash = "-"
			}
			parts = append(parts, hash)
		}
		if mode != ModeUnknown {
			parts = append(parts, mode.String())
		}
	}
	return f.bounded(strings.Join(parts, " "))
}

// BuildChunk frames one payload slice. The payload is carried verbatim.
func (f Framer) BuildChunk(fileName string, index, total int, payload string) (string, error) {
	if err := checkName(fileName); err != nil {
		return "", err
	}
	if err := checkPosition(index, total); err != nil {
		return "", err
	}
	return f.bounded(fmt.Sprintf("%s %d/%d %s %s", tagChunk, index, total, fileName, payload))
}

// BuildEnd closes a transfer. An empty hash produces the legacy short form.
func (f Framer) BuildEnd(fileName, hash string) (string, error) {
	if err := checkName(fileName); err != nil {
		return "", err
	}
	if hash == "" {
		return f.bounded(tagEnd + " " + fileName)
	}
	if !isHex(hash) {
		return "", fmt.Errorf("%w: hash %q", ErrInvalidFrameField, hash)
	}
	return f.bounded(fmt.Sprintf("%s %s %s %s", tagEnd, fileName, hashMarker, hash))
}

// BuildAck confirms receipt of one chunk.
func (f Framer) BuildAck(fileName string, index, total int) (string, error) {
	if err := checkName(fileName); err != nil {
		return "", err
	}
	if err := checkPosition(index, total); err != nil {
		return "", err
	}
	return f.bounded(fmt.Sprintf("%s: %d/%d %s", fileName, index, total, ackSuffix))
}

// BuildRequest asks the sender to retransmit one chunk.
func (f Framer) BuildRequest(fileName string, index, total int) (string, error) {
	if err := checkName(fileName); err != nil {
		return "", err
	}
	if err := checkPosition(index, total); err != nil {
		return "", err
	}
	return f.bounded(fmt.Sprintf("%s %d/%d %s", tagRequest, index, total, fileName))
}

func (f Framer) bounded(frame string) (string, error) {
	if f.MaxMessageSize > 0 && len(frame) > f.MaxMessageSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(frame), f.MaxMessageSize)
	}
	return frame, nil
}

// FitChunkSize shrinks want until the largest chunk frame of a transfer of
// textLen characters fits the ceiling.
func (f Framer) FitChunkSize(fileName string, textLen, want int) (int, error) {
	if want <= 0 {
		return 0, fmt.Errorf("%w: chunk size %d", ErrInvalidFrameField, want)
	}
	if f.MaxMessageSize <= 0 {
		return want, nil
	}

	size := want
	// Shrinking can only add chunks, and the index width grows at most once
	// per power of ten, so this settles in a few rounds.
	for range 4 {
		total := ChunkCount(textLen, size)
		room := f.MaxMessageSize - chunkOverhead(fileName, total)
		if size <= room {
			return size, nil
		}
		if room < MinChunkPayload {
			return 0, fmt.Errorf("%w: name %q leaves %d bytes per chunk", ErrFrameTooLarge, fileName, room)
		}
		size = room
	}
	return size, nil
}

// chunkOverhead is the frame length minus the payload for the widest index.
func chunkOverhead(fileName string, total int) int {
	digits := len(strconv.Itoa(total))
	return len(tagChunk) + 1 + 2*digits + 1 + 1 + len(fileName) + 1
}

// ChunkCount returns ceil(n/size), with an empty payload still occupying one chunk.
func ChunkCount(n, size int) int {
	if size <= 0 {
		return 0
	}
	if n == 0 {
		return 1
	}
	return (n + size - 1) / size
}

// SplitChunks cuts text into size-long pieces; only the last may be shorter.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		return nil
	}
	chunks := make([]string, 0, ChunkCount(len(text), size))
	for start := 0; start < len(text); start += size {
		end := min(start+size, len(text))
		chunks = append(chunks, text[start:end])
	}
	if len(chunks) == 0 {
		chunks = append(chunks, "")
	}
	return chunks
}

// SanitizeFileName reduces a path to a name the grammar can carry.
func SanitizeFileName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
}

// Parse classifies a raw message. It never fails: anything outside the
// grammar comes back as FrameUnrecognized with a Reason.
func Parse(raw string) Frame {
	msg := strings.TrimRight(raw, "\r\n")
	if msg == "" {
		return unrecognized("empty message")
	}

	tag, rest, _ := strings.Cut(msg, " ")
	switch tag {
	case tagStart:
		return parseStart(rest)
	case tagChunk:
		return parseChunk(rest)
	case tagEnd:
		return parseEnd(rest)
	case tagRequest:
		return parseRequest(rest)
	}

	if strings.HasSuffix(msg, " "+ackSuffix) {
		return parseAck(strings.TrimSuffix(msg, " "+ackSuffix))
	}
	return unrecognized("unknown tag")
}

func parseStart(rest string) Frame {
	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields) > 4 {
		return unrecognized("start: wrong field count")
	}
	frame := Frame{Kind: FrameStart, FileName: fields[0]}
	if len(fields) >= 2 {
		total, err := strconv.Atoi(fields[1])
		if err != nil || total <= 0 {
			return unrecognized("start: bad total")
		}
		frame.Total = total
	}
	if len(fields) >= 3 && fields[2] != "-" {
		if !isHex(fields[2]) {
			return unrecognized("start: bad hash")
		}
		frame.Hash = strings.ToLower(fields[2])
	}
	if len(fields) == 4 {
		mode, ok := ParseEncodingMode(fields[3])
		if !ok {
			return unrecognized("start: bad mode")
		}
		frame.Mode = mode
	}
	return frame
}

func parseChunk(rest string) Frame {
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) < 2 {
		return unrecognized("chunk: missing fields")
	}
	index, total, ok := parsePosition(parts[0])
	if !ok {
		return unrecognized("chunk: bad position")
	}
	if checkName(parts[1]) != nil {
		return unrecognized("chunk: bad name")
	}
	frame := Frame{Kind: FrameChunk, FileName: parts[1], Index: index, Total: total}
	if len(parts) == 3 {
		frame.Payload = parts[2]
	}
	return frame
}

func parseEnd(rest string) Frame {
	fields := strings.Fields(rest)
	switch len(fields) {
	case 1:
		return Frame{Kind: FrameEnd, FileName: fields[0]}
	case 3:
		if fields[1] != hashMarker || !isHex(fields[2]) {
			return unrecognized("end: bad hash")
		}
		return Frame{Kind: FrameEnd, FileName: fields[0], Hash: strings.ToLower(fields[2])}
	default:
		return unrecognized("end: wrong field count")
	}
}

func parseRequest(rest string) Frame {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return unrecognized("request: wrong field count")
	}
	index, total, ok := parsePosition(fields[0])
	if !ok {
		return unrecognized("request: bad position")
	}
	return Frame{Kind: FrameRequestMissing, FileName: fields[1], Index: index, Total: total}
}

func parseAck(body string) Frame {
	i := strings.LastIndex(body, ": ")
	if i <= 0 {
		return unrecognized("ack: missing name")
	}
	name, pos := body[:i], body[i+2:]
	if checkName(name) != nil {
		return unrecognized("ack: bad name")
	}
	index, total, ok := parsePosition(pos)
	if !ok {
		return unrecognized("ack: bad position")
	}
	return Frame{Kind: FrameAck, FileName: name, Index: index, Total: total}
}

func parsePosition(s string) (int, int, bool) {
	a, b, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	index, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	total, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, false
	}
	if checkPosition(index, total) != nil {
		return 0, 0, false
	}
	return index, total, true
}

func unrecognized(reason string) Frame {
	return Frame{Kind: FrameUnrecognized, Reason: reason}
}

func checkName(name string) error {
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: file name %q", ErrInvalidFrameField, name)
	}
	return nil
}

func checkPosition(index, total int) error {
	if total <= 0 || index < 1 || index > total {
		return fmt.Errorf("%w: position %d/%d", ErrInvalidFrameField, index, total)
	}
	return nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
