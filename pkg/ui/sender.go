package ui

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	senderEvent "github.com/rescp17/meshxfer/internal/app_events/sender"
	"github.com/rescp17/meshxfer/internal/style"
	"github.com/rescp17/meshxfer/internal/util"
	"github.com/rescp17/meshxfer/pkg/discovery"
	"github.com/rescp17/meshxfer/pkg/filePicker"
)

// senderState defines the different states of the sender UI.
type senderState int

const (
	pickingFile senderState = iota
	findingPeers
	selectingPeer
	sendingFile
	transferComplete
	transferFailed
)

type senderModel struct {
	state    senderState
	discover bool
	picker   filePicker.Model
	spinner  spinner.Model
	table    table.Model
	progress progress.Model
	peers    []discovery.ServiceInfo
	request  senderEvent.SendFileMsg

	confirmed int
	total     int
	percent   float64
	result    senderEvent.TransferCompleteMsg
	failure   senderEvent.TransferFailedMsg
	lastError error
}

var peerColumns = []table.Column{
	{Title: "Index", Width: 6},
	{Title: "Name", Width: 24},
	{Title: "Node", Width: 11},
	{Title: "Address", Width: 16},
}

// NewSenderModel builds the sender TUI for req. Without a file the user first
// browses for one. With no destination and discover set, the user then picks
// a peer; otherwise sending starts at once.
func NewSenderModel(app SenderController, req senderEvent.SendFileMsg, discover bool) tea.Model {
	t := table.New(
		table.WithColumns(peerColumns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(0),
	)
	t.SetStyles(style.NewTableStyles())

	sm := senderModel{
		discover: discover,
		spinner:  style.NewSpinner(),
		table:    t,
		progress: style.NewProgress(40),
		request:  req,
	}
	if req.File.Path == "" {
		sm.state = pickingFile
		sm.picker = filePicker.New(".")
	} else {
		sm.state = sm.afterPick()
	}

	return model{
		mode:          Sender,
		appController: app,
		sender:        sm,
	}
}

// afterPick is the state that follows choosing the file.
func (s *senderModel) afterPick() senderState {
	switch {
	case s.request.Dest != "" || !s.discover:
		return sendingFile
	case len(s.peers) > 0:
		return selectingPeer
	default:
		return findingPeers
	}
}

func (m *model) initSender() tea.Cmd {
	cmds := []tea.Cmd{m.sender.spinner.Tick, m.listenForAppMessages()}
	switch m.sender.state {
	case pickingFile:
		cmds = append(cmds, m.sender.picker.Init())
	case sendingFile:
		cmds = append(cmds, m.startTransfer())
	}
	return tea.Batch(cmds...)
}

func (m *model) startTransfer() tea.Cmd {
	events := m.appController.(SenderController).AppEvents()
	req := m.sender.request
	return func() tea.Msg {
		events <- req
		return nil
	}
}

func (m *model) updatePeerTable(peers []discovery.ServiceInfo) {
	m.sender.peers = peers
	rows := []table.Row{}
	for index, p := range peers {
		addr := "-"
		if p.Addr != nil {
			addr = p.Addr.String()
		}
		rows = append(rows, table.Row{strconv.Itoa(index), p.Name, p.NodeID, addr})
	}
	m.sender.table.SetRows(rows)
	m.sender.table.SetHeight(len(rows) + 1)
}

func (m *model) updateSender(msg tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, processed := m.handleSenderAppEvent(msg); processed {
		return m, cmd
	}

	var cmd tea.Cmd
	switch m.sender.state {
	case pickingFile:
		if picked, ok := msg.(filePicker.SelectedFileMsg); ok {
			m.sender.request.File = picked.File
			m.sender.state = m.sender.afterPick()
			if m.sender.state == sendingFile {
				cmd = m.startTransfer()
			}
		} else {
			m.sender.picker, cmd = m.sender.picker.Update(msg)
		}
	case findingPeers, selectingPeer:
		cmd = m.updateSelectingPeerState(msg)
	case sendingFile:
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "c" {
			events := m.appController.(SenderController).AppEvents()
			cmd = func() tea.Msg {
				events <- senderEvent.CancelTransferMsg{}
				return nil
			}
		}
	case transferComplete, transferFailed:
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter {
			return m, tea.Quit
		}
	}

	var spinCmd tea.Cmd
	m.sender.spinner, spinCmd = m.sender.spinner.Update(msg)
	return m, tea.Batch(cmd, spinCmd)
}

func (m *model) handleSenderAppEvent(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case senderEvent.FoundPeersMsg:
		slog.Debug("Discovery update", "peer_count", len(msg.Peers))
		if m.sender.state == findingPeers && len(msg.Peers) > 0 {
			m.sender.state = selectingPeer
		}
		if m.sender.state == selectingPeer && len(msg.Peers) == 0 {
			m.sender.state = findingPeers
		}
		m.updatePeerTable(msg.Peers)
		return m.listenForAppMessages(), true
	case senderEvent.TransferStartedMsg:
		m.sender.state = sendingFile
		return m.listenForAppMessages(), true
	case senderEvent.StatusUpdateMsg:
		slog.Info("Status Update", "message", msg.Message)
		return m.listenForAppMessages(), true
	case senderEvent.ProgressUpdateMsg:
		m.sender.confirmed = msg.Confirmed
		m.sender.total = msg.Total
		m.sender.percent = msg.Percent
		return m.listenForAppMessages(), true
	case senderEvent.TransferCompleteMsg:
		m.sender.state = transferComplete
		m.sender.result = msg
		m.sender.percent = 1
		return m.listenForAppMessages(), true
	case senderEvent.TransferFailedMsg:
		m.sender.state = transferFailed
		m.sender.failure = msg
		m.sender.lastError = msg.Err
		return m.listenForAppMessages(), true
	case senderEvent.TransferCancelledMsg:
		return tea.Quit, true
	case appevents.ErrorMsg:
		m.sender.state = transferFailed
		m.sender.lastError = msg.Err
		return m.listenForAppMessages(), true
	}
	return nil, false
}

// updateSelectingPeerState lets the user pick a destination or broadcast.
func (m *model) updateSelectingPeerState(msg tea.Msg) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch {
	case keyMsg.String() == "b":
		m.sender.request.Dest = ""
		m.sender.state = sendingFile
		return m.startTransfer()
	case keyMsg.Type == tea.KeyEnter && m.sender.state == selectingPeer:
		selectedIndex := m.sender.table.Cursor()
		if selectedIndex < 0 || selectedIndex >= len(m.sender.peers) {
			slog.Error("Cursor out of sync", "cursor", selectedIndex, "peers", len(m.sender.peers))
			return nil
		}
		m.sender.request.Dest = m.sender.peers[selectedIndex].NodeID
		m.sender.state = sendingFile
		return m.startTransfer()
	}
	var cmd tea.Cmd
	m.sender.table, cmd = m.sender.table.Update(msg)
	return cmd
}

func (m *model) senderView() string {
	file := m.sender.request.File
	dest := m.sender.request.Dest
	if dest == "" {
		dest = "everyone"
	}

	switch m.sender.state {
	case pickingFile:
		return "\n" + m.sender.picker.View()
	case findingPeers:
		return fmt.Sprintf("\n%s Finding mesh nodes...  %s", m.sender.spinner.View(), style.HelpStyle.Render("b: broadcast"))
	case selectingPeer:
		s := fmt.Sprintf("\n%s\n\n", style.TitleStyle.Render(fmt.Sprintf("Found %d node(s)", len(m.sender.peers))))
		s += style.BaseStyle.Render(m.sender.table.View()) + "\n"
		s += style.HelpStyle.Render("enter: send to node  b: broadcast")
		return s
	case sendingFile:
		s := fmt.Sprintf("\n%s Sending %s (%s) to %s\n\n",
			m.sender.spinner.View(),
			style.HighlightFontStyle.Render(file.Name),
			util.FormatSize(file.Size),
			style.NodeStyle.Render(dest))
		s += m.sender.progress.ViewAs(m.sender.percent) + "\n"
		if m.sender.total > 0 {
			s += fmt.Sprintf("%d/%d chunks confirmed\n", m.sender.confirmed, m.sender.total)
		}
		s += style.HelpStyle.Render("c: cancel")
		return s
	case transferComplete:
		r := m.sender.result.Result
		s := style.SuccessStyle.Render(fmt.Sprintf("\n%s delivered", r.FileName)) + "\n\n"
		s += fmt.Sprintf("  chunks  %d x %d (%s)\n", r.TotalChunks, r.ChunkSize, r.Mode)
		s += fmt.Sprintf("  sha256  %s\n", util.ShortHash(r.Hash))
		if r.Served > 0 {
			s += fmt.Sprintf("  served  %d requested chunk(s)\n", r.Served)
		}
		return s + "\nPress Enter to exit."
	case transferFailed:
		s := fmt.Sprintf("\nAn error occurred: %s\n", style.ErrorStyle.Render(errorText(m.sender.lastError)))
		if m.sender.failure.FileName != "" {
			s += style.WarnStyle.Render(fmt.Sprintf("Resume with --chunk-start %d", m.sender.failure.ResumeFrom)) + "\n"
		}
		return s + "\nPress Enter to exit."
	default:
		return "Internal error: unknown sender state"
	}
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
