package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	appevents "github.com/rescp17/meshxfer/internal/app_events"
)

type mode int

const (
	None mode = iota
	Sender
	Receiver
)

// AppController is the part of an app the TUI listens to.
type AppController interface {
	UIMessages() <-chan tea.Msg
}

// SenderController also accepts events from the TUI.
type SenderController interface {
	AppController
	AppEvents() chan<- appevents.AppEvent
}

type model struct {
	mode          mode
	appController AppController
	sender        senderModel
	receiver      receiverModel
	width         int
}

func (m model) Init() tea.Cmd {
	switch m.mode {
	case Sender:
		return m.initSender()
	case Receiver:
		return m.initReceiver()
	default:
		return nil
	}
}

func (m model) View() string {
	var s string
	switch m.mode {
	case Sender:
		s += m.senderView()
	case Receiver:
		s += m.receiverView()
	default:
		return ""
	}
	s += "\nPress ctrl + c to quit"
	return s
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	}

	switch m.mode {
	case Sender:
		return m.updateSender(msg)
	case Receiver:
		return m.updateReceiver(msg)
	}
	return m, nil
}

// listenForAppMessages is a command that listens for messages from the app controller.
func (m *model) listenForAppMessages() tea.Cmd {
	return func() tea.Msg {
		return <-m.appController.UIMessages()
	}
}
