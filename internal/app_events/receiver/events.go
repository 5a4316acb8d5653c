package receiver

import (
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
)

// --- App to UI Messages ---

// ListeningMsg is sent once the link is open and inbound frames are handled.
type ListeningMsg struct {
	appevents.UIMessage
	NodeID    string
	OutputDir string
}

// ProgressUpdateMsg reports chunks stored for one inbound file.
type ProgressUpdateMsg struct {
	appevents.UIMessage
	FileName string
	Received int
	Total    int
	State    string
}

// FileReceivedMsg is sent after a file was verified and written.
type FileReceivedMsg struct {
	appevents.UIMessage
	File fileInfo.FileNode
}

// FileFailedMsg is sent when an inbound file ends corrupted or incomplete.
type FileFailedMsg struct {
	appevents.UIMessage
	FileName string
	Err      error
}
