package sender

import (
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	"github.com/rescp17/meshxfer/pkg/discovery"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
	"github.com/rescp17/meshxfer/pkg/transfer"
)

// --- App Events (from TUI to App) ---

// SendFileMsg asks the app to send one file. ChunkStart resumes after the
// given confirmed chunk.
type SendFileMsg struct {
	appevents.Event
	File       fileInfo.FileNode
	Dest       string
	ChunkStart int
}

// CancelTransferMsg aborts the running transfer.
type CancelTransferMsg struct {
	appevents.Event
}

var (
	_ appevents.AppEvent = (*SendFileMsg)(nil)
	_ appevents.AppEvent = (*CancelTransferMsg)(nil)
)

// --- UI Messages (from App to TUI) ---

type FoundPeersMsg struct {
	appevents.UIMessage
	Peers []discovery.ServiceInfo
}

type StatusUpdateMsg struct {
	appevents.UIMessage
	Message string
}

type TransferStartedMsg struct {
	appevents.UIMessage
	File fileInfo.FileNode
	Dest string
}

type ProgressUpdateMsg struct {
	appevents.UIMessage
	FileName  string
	Confirmed int
	Total     int
	Percent   float64 // 0-1
}

type TransferCompleteMsg struct {
	appevents.UIMessage
	Result transfer.SendResult
}

// TransferFailedMsg carries the chunk start that resumes the transfer.
type TransferFailedMsg struct {
	appevents.UIMessage
	FileName   string
	Err        error
	ResumeFrom int
}

type TransferCancelledMsg struct {
	appevents.UIMessage
}
