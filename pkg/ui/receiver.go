package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/meshxfer/internal/app_events"
	receiverEvent "github.com/rescp17/meshxfer/internal/app_events/receiver"
	"github.com/rescp17/meshxfer/internal/style"
	"github.com/rescp17/meshxfer/internal/util"
)

const nameWidth = 24

type inboundFile struct {
	name     string
	received int
	total    int
	state    string
	size     string
	hash     string
}

type receiverModel struct {
	spinner   spinner.Model
	table     table.Model
	nodeID    string
	outputDir string
	listening bool
	order     []string
	files     map[string]*inboundFile
	lastError error
}

var transferColumns = []table.Column{
	{Title: "File", Width: nameWidth},
	{Title: "Chunks", Width: 9},
	{Title: "State", Width: 14},
	{Title: "Size", Width: 11},
	{Title: "SHA-256", Width: 12},
}

// NewReceiverModel builds the receiver TUI listing inbound transfers.
func NewReceiverModel(app AppController) tea.Model {
	t := table.New(
		table.WithColumns(transferColumns),
		table.WithRows([]table.Row{}),
		table.WithFocused(false),
		table.WithHeight(1),
	)
	t.SetStyles(style.NewTableStyles())

	return model{
		mode:          Receiver,
		appController: app,
		receiver: receiverModel{
			spinner: style.NewSpinner(),
			table:   t,
			files:   make(map[string]*inboundFile),
		},
	}
}

func (m *model) initReceiver() tea.Cmd {
	return tea.Batch(
		m.receiver.spinner.Tick,
		m.listenForAppMessages(),
	)
}

func (m *model) file(name string) *inboundFile {
	f, ok := m.receiver.files[name]
	if !ok {
		f = &inboundFile{name: name, size: "-", hash: "-"}
		m.receiver.files[name] = f
		m.receiver.order = append(m.receiver.order, name)
	}
	return f
}

func (m *model) refreshTransferTable() {
	rows := make([]table.Row, 0, len(m.receiver.order))
	for _, name := range m.receiver.order {
		f := m.receiver.files[name]
		chunks := "-"
		if f.total > 0 {
			chunks = fmt.Sprintf("%d/%d", f.received, f.total)
		}
		rows = append(rows, table.Row{util.PadRight(f.name, nameWidth), chunks, f.state, f.size, f.hash})
	}
	m.receiver.table.SetRows(rows)
	m.receiver.table.SetHeight(len(rows) + 1)
}

func (m *model) updateReceiver(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case receiverEvent.ListeningMsg:
		m.receiver.listening = true
		m.receiver.nodeID = msg.NodeID
		m.receiver.outputDir = msg.OutputDir
		return m, m.listenForAppMessages()
	case receiverEvent.ProgressUpdateMsg:
		f := m.file(msg.FileName)
		f.received = msg.Received
		f.total = msg.Total
		f.state = msg.State
		m.refreshTransferTable()
		return m, m.listenForAppMessages()
	case receiverEvent.FileReceivedMsg:
		f := m.file(msg.File.Name)
		f.state = "verified"
		f.received = f.total
		f.size = util.FormatSize(msg.File.Size)
		f.hash = util.ShortHash(msg.File.Checksum)
		m.refreshTransferTable()
		return m, m.listenForAppMessages()
	case receiverEvent.FileFailedMsg:
		f := m.file(msg.FileName)
		f.state = "failed"
		m.receiver.lastError = msg.Err
		m.refreshTransferTable()
		return m, m.listenForAppMessages()
	case appevents.ErrorMsg:
		m.receiver.lastError = msg.Err
		return m, m.listenForAppMessages()
	}

	var spinCmd tea.Cmd
	m.receiver.spinner, spinCmd = m.receiver.spinner.Update(msg)
	return m, spinCmd
}

func (m model) receiverView() string {
	if !m.receiver.listening {
		return fmt.Sprintf("\n %s Opening link...", m.receiver.spinner.View())
	}

	s := fmt.Sprintf("\n %s Listening as %s, saving to %s\n\n",
		m.receiver.spinner.View(),
		style.NodeStyle.Render(m.receiver.nodeID),
		style.HighlightFontStyle.Render(m.receiver.outputDir))

	if len(m.receiver.order) == 0 {
		s += style.HelpStyle.Render(" Waiting for a START frame...") + "\n"
	} else {
		s += style.BaseStyle.Render(m.receiver.table.View()) + "\n"
	}
	if m.receiver.lastError != nil {
		s += style.ErrorStyle.Render("Last error: "+m.receiver.lastError.Error()) + "\n"
	}
	return s
}
