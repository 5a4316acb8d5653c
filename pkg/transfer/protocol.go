package transfer

// FrameKind classifies a message seen on the mesh
type FrameKind int

const (
	FrameUnrecognized FrameKind = iota
	FrameStart
	FrameChunk
	FrameEnd
	FrameAck
	FrameRequestMissing
)

// String returns the name used in logs
func (k FrameKind) String() string {
	switch k {
	case FrameStart:
		return "start"
	case FrameChunk:
		return "chunk"
	case FrameEnd:
		return "end"
	case FrameAck:
		return "ack"
	case FrameRequestMissing:
		return "request_missing"
	default:
		return "unrecognized"
	}
}

// Wire tags. The ack frame has no tag; it is recognised by its suffix.
const (
	tagStart   = "START"
	tagChunk   = "CHUNK"
	tagEnd     = "END"
	tagRequest = "REQ"
	hashMarker = "HASH:"
	ackSuffix  = "confirmed"
)

// Frame is the parsed form of one mesh message. Only the fields relevant to
// Kind are set.
type Frame struct {
	Kind     FrameKind
	FileName string
	Index    int
	Total    int
	Payload  string
	Hash     string
	Mode     EncodingMode

	// Reason explains why a message was not recognised
	Reason string
}
