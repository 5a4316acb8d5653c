package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	receiverEvent "github.com/rescp17/meshxfer/internal/app_events/receiver"
	senderEvent "github.com/rescp17/meshxfer/internal/app_events/sender"
	"github.com/rescp17/meshxfer/pkg/discovery"
	"github.com/rescp17/meshxfer/pkg/filePicker"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
	"github.com/rescp17/meshxfer/pkg/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	messages chan tea.Msg
	events   chan appevents.AppEvent
}

func newFakeController() *fakeController {
	return &fakeController{
		messages: make(chan tea.Msg, 8),
		events:   make(chan appevents.AppEvent, 8),
	}
}

func (f *fakeController) UIMessages() <-chan tea.Msg             { return f.messages }
func (f *fakeController) AppEvents() chan<- appevents.AppEvent { return f.events }

func update(t *testing.T, m tea.Model, msg tea.Msg) (*model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(*model)
	require.True(t, ok)
	return mm, cmd
}

// runCmd executes cmd, descending into batches.
func runCmd(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if batch, ok := cmd().(tea.BatchMsg); ok {
		for _, c := range batch {
			runCmd(c)
		}
	}
}

func TestSenderPicksDiscoveredPeer(t *testing.T) {
	ctrl := newFakeController()
	req := senderEvent.SendFileMsg{File: fileInfo.FileNode{Name: "map.png", Size: 2048, Path: "map.png"}}
	m := NewSenderModel(ctrl, req, true)
	assert.Contains(t, m.View(), "Finding mesh nodes")

	mm, _ := update(t, m, senderEvent.FoundPeersMsg{Peers: []discovery.ServiceInfo{
		{Name: "base-camp", NodeID: "!0000beef"},
	}})
	assert.Equal(t, selectingPeer, mm.sender.state)
	assert.Contains(t, mm.View(), "!0000beef")

	mm, cmd := update(t, mm, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, sendingFile, mm.sender.state)
	runCmd(cmd)

	sent := <-ctrl.events
	assert.Equal(t, "!0000beef", sent.(senderEvent.SendFileMsg).Dest)
}

func TestSenderPicksFileBeforeSending(t *testing.T) {
	ctrl := newFakeController()
	m := NewSenderModel(ctrl, senderEvent.SendFileMsg{Dest: "!0000000b"}, false)
	assert.Contains(t, m.View(), "Pick a file to send")

	picked := fileInfo.FileNode{Name: "notes.md", Size: 12, Path: "/tmp/notes.md"}
	mm, cmd := update(t, m, filePicker.SelectedFileMsg{File: picked})
	assert.Equal(t, sendingFile, mm.sender.state)
	runCmd(cmd)

	sent := (<-ctrl.events).(senderEvent.SendFileMsg)
	assert.Equal(t, picked, sent.File)
	assert.Equal(t, "!0000000b", sent.Dest)
}

func TestSenderPicksFileThenPeer(t *testing.T) {
	ctrl := newFakeController()
	m := NewSenderModel(ctrl, senderEvent.SendFileMsg{}, true)

	mm, _ := update(t, m, senderEvent.FoundPeersMsg{Peers: []discovery.ServiceInfo{{Name: "relay", NodeID: "!0000cafe"}}})
	assert.Equal(t, pickingFile, mm.sender.state)

	mm, _ = update(t, mm, filePicker.SelectedFileMsg{File: fileInfo.FileNode{Name: "x.bin", Path: "x.bin"}})
	assert.Equal(t, selectingPeer, mm.sender.state)
	assert.Contains(t, mm.View(), "!0000cafe")
}

func TestSenderShowsProgressAndResumePoint(t *testing.T) {
	ctrl := newFakeController()
	req := senderEvent.SendFileMsg{File: fileInfo.FileNode{Name: "log.txt", Size: 900, Path: "log.txt"}, Dest: "!0000000b"}
	m := NewSenderModel(ctrl, req, false)

	mm, _ := update(t, m, senderEvent.ProgressUpdateMsg{FileName: "log.txt", Confirmed: 2, Total: 5, Percent: 0.4})
	assert.Contains(t, mm.View(), "2/5 chunks confirmed")

	mm, _ = update(t, mm, senderEvent.TransferFailedMsg{
		FileName:   "log.txt",
		Err:        &transfer.RetryExhaustedError{FileName: "log.txt", Index: 3, LastConfirmed: 2},
		ResumeFrom: 2,
	})
	assert.Equal(t, transferFailed, mm.sender.state)
	assert.Contains(t, mm.View(), "--chunk-start 2")
}

func TestSenderCompletion(t *testing.T) {
	ctrl := newFakeController()
	m := NewSenderModel(ctrl, senderEvent.SendFileMsg{File: fileInfo.FileNode{Name: "a.txt", Path: "a.txt"}}, false)

	mm, _ := update(t, m, senderEvent.TransferCompleteMsg{Result: transfer.SendResult{
		FileName: "a.txt", TotalChunks: 3, ChunkSize: 180, Mode: transfer.ModeCompressed, Hash: strings.Repeat("ab", 32),
	}})
	assert.Equal(t, transferComplete, mm.sender.state)
	view := mm.View()
	assert.Contains(t, view, "a.txt delivered")
	assert.Contains(t, view, "abababababab")

	_, cmd := update(t, mm, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestReceiverTracksTransfers(t *testing.T) {
	ctrl := newFakeController()
	m := NewReceiverModel(ctrl)
	assert.Contains(t, m.View(), "Opening link")

	mm, _ := update(t, m, receiverEvent.ListeningMsg{NodeID: "!0000000b", OutputDir: "inbox"})
	assert.Contains(t, mm.View(), "!0000000b")

	mm, _ = update(t, mm, receiverEvent.ProgressUpdateMsg{FileName: "a.txt", Received: 1, Total: 4, State: "Receiving"})
	mm, _ = update(t, mm, receiverEvent.ProgressUpdateMsg{FileName: "b.txt", Received: 2, Total: 2, State: "Receiving"})
	mm, _ = update(t, mm, receiverEvent.FileReceivedMsg{File: fileInfo.FileNode{Name: "b.txt", Size: 1536, Checksum: strings.Repeat("0f", 32)}})
	mm, _ = update(t, mm, receiverEvent.FileFailedMsg{FileName: "a.txt", Err: errors.New("a.txt: transfer incomplete")})

	assert.Equal(t, []string{"a.txt", "b.txt"}, mm.receiver.order)
	assert.Equal(t, "failed", mm.receiver.files["a.txt"].state)
	assert.Equal(t, "verified", mm.receiver.files["b.txt"].state)
	assert.Equal(t, "1.5 KB", mm.receiver.files["b.txt"].size)
	assert.Contains(t, mm.View(), "transfer incomplete")
}
