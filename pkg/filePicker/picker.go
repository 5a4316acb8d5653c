package filePicker

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rescp17/meshxfer/internal/style"
	"github.com/rescp17/meshxfer/internal/util"
	"github.com/rescp17/meshxfer/pkg/fileInfo"
)

type mode int

const (
	modeBrowse mode = iota
	modeInput
)

// SelectedFileMsg is emitted once the user confirms a regular file.
type SelectedFileMsg struct {
	File fileInfo.FileNode
}

// --- Key Map ---
type KeyMap struct {
	Up          key.Binding
	Down        key.Binding
	Left        key.Binding // Page up
	Right       key.Binding // Page down
	Parent      key.Binding
	ToggleInput key.Binding
	Confirm     key.Binding
	Back        key.Binding
}

var DefaultKeyMap = KeyMap{
	Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
	Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
	Left:        key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "page up")),
	Right:       key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "page down")),
	Parent:      key.NewBinding(key.WithKeys("backspace"), key.WithHelp("backspace", "parent dir")),
	ToggleInput: key.NewBinding(key.WithKeys("ctrl+p"), key.WithHelp("ctrl+p", "input path")),
	Confirm:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open/send")),
	Back:        key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
}

// Model browses one directory at a time and picks a single file to send.
type Model struct {
	path     string
	items    []fs.DirEntry
	cursor   int
	offset   int // First visible item
	height   int
	keys     KeyMap
	mode     mode
	input    textinput.Model
	inputErr error
}

// New starts browsing dir. An empty or unreadable dir starts in path input mode.
func New(dir string) Model {
	ti := textinput.New()
	ti.Placeholder = "directory"
	ti.CharLimit = 256
	ti.Width = 80
	ti.Cursor.Style = style.InputStyle
	ti.PromptStyle = style.PromptStyle

	m := Model{
		keys:  DefaultKeyMap,
		mode:  modeInput,
		input: ti,
	}
	if dir == "" {
		m.input.Focus()
		return m
	}
	if err := m.SetPath(dir); err != nil {
		slog.Warn("Cannot browse directory", "dir", dir, "error", err)
		m.inputErr = err
		m.input.Focus()
	}
	return m
}

// Path returns the directory being browsed.
func (m Model) Path() string {
	return m.path
}

// SetPath loads the entries of dir, directories first.
func (m *Model) SetPath(dir string) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", absPath)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}
	items, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Errorf("could not read directory: %w", err)
	}
	slices.SortStableFunc(items, func(a, b fs.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name(), b.Name())
	})

	m.path = absPath
	m.items = items
	m.cursor = 0
	m.offset = 0
	m.inputErr = nil
	m.mode = modeBrowse
	m.input.Blur()
	m.input.Reset()
	return nil
}

func (m Model) Init() tea.Cmd {
	if m.mode == modeInput {
		return textinput.Blink
	}
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.mode == modeInput {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m Model) updateBrowse(msg tea.KeyMsg) (Model, tea.Cmd) {
	visible := m.visibleItems()

	switch {
	case key.Matches(msg, m.keys.ToggleInput):
		m.mode = modeInput
		m.input.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
			if m.cursor < m.offset {
				m.offset--
			}
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
			if m.cursor >= m.offset+visible {
				m.offset++
			}
		}

	case key.Matches(msg, m.keys.Right):
		m.cursor = min(m.cursor+visible, len(m.items)-1)
		m.offset = max(0, min(m.offset+visible, len(m.items)-visible))
		if m.cursor >= m.offset+visible {
			m.offset = m.cursor - visible + 1
		}
		m.cursor = max(m.cursor, 0)

	case key.Matches(msg, m.keys.Left):
		m.cursor = max(m.cursor-visible, 0)
		m.offset = max(m.offset-visible, 0)
		if m.cursor < m.offset {
			m.offset = m.cursor
		}

	case key.Matches(msg, m.keys.Parent):
		parent := filepath.Dir(m.path)
		if parent != m.path {
			if err := m.SetPath(parent); err != nil {
				m.inputErr = err
			}
		}

	case key.Matches(msg, m.keys.Confirm):
		if len(m.items) == 0 {
			return m, nil
		}
		item := m.items[m.cursor]
		path := filepath.Join(m.path, item.Name())
		if item.IsDir() {
			if err := m.SetPath(path); err != nil {
				m.inputErr = err
			}
			return m, nil
		}
		node, err := fileInfo.CreateNode(path)
		if err != nil {
			m.inputErr = err
			return m, nil
		}
		m.inputErr = nil
		return m, func() tea.Msg {
			return SelectedFileMsg{File: node}
		}
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		if m.path != "" {
			m.mode = modeBrowse
			m.input.Blur()
			m.input.Reset()
			m.inputErr = nil
		}
		return m, nil

	case key.Matches(msg, m.keys.Confirm):
		path := m.input.Value()
		if !filepath.IsAbs(path) && m.path != "" {
			path = filepath.Join(m.path, path)
		}
		if err := m.SetPath(path); err != nil {
			m.inputErr = err
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString("Pick a file to send. " + m.helpView() + "\n\n")
	if m.mode == modeInput {
		s.WriteString(m.input.View() + "\n")
	}
	if m.inputErr != nil {
		s.WriteString(style.ErrorStyle.Render(m.inputErr.Error()) + "\n")
	}
	if m.path == "" {
		return s.String()
	}

	fmt.Fprintf(&s, "Browsing: %s\n\n", m.path)

	const (
		nameWidth = 36
		timeWidth = 20
		sizeWidth = 12
		typeWidth = 28
	)
	header := style.TitleStyle.UnsetForeground()
	s.WriteString("  " +
		header.Render(util.PadRight("Name", nameWidth)) + " " +
		header.Render(util.PadRight("Last Modified", timeWidth)) + " " +
		header.Render(util.PadRight("Size", sizeWidth)) + " " +
		header.Render(util.PadRight("Type", typeWidth)) + "\n")

	if len(m.items) == 0 {
		s.WriteString(style.HelpStyle.Render("  (empty directory)") + "\n")
		return s.String()
	}

	visible := m.visibleItems()
	start := min(max(m.offset, 0), len(m.items))
	end := min(start+visible, len(m.items))

	for i, item := range m.items[start:end] {
		if start+i == m.cursor {
			s.WriteString(style.CursorStyle.String())
		} else {
			s.WriteString("  ")
		}

		var modTime, size, typ string
		if info, err := item.Info(); err == nil {
			modTime = info.ModTime().Format("2006-01-02 15:04:05")
			if info.IsDir() {
				size = "<DIR>"
			} else {
				size = util.FormatSize(info.Size())
			}
		}
		name := item.Name()
		if item.IsDir() {
			name += "/"
		} else if mime, err := mimetype.DetectFile(filepath.Join(m.path, item.Name())); err == nil {
			typ = mime.String()
		}

		nameCell := util.PadRight(name, nameWidth)
		if item.IsDir() {
			nameCell = style.DirStyle.Render(nameCell)
		}
		s.WriteString(nameCell + " " +
			util.PadRight(modTime, timeWidth) + " " +
			util.PadRight(size, sizeWidth) + " " +
			util.PadRight(typ, typeWidth) + "\n")
	}

	if len(m.items) > visible {
		fmt.Fprintf(&s, "\n... %d/%d ...\n", m.cursor+1, len(m.items))
	}
	return s.String()
}

func (m Model) helpView() string {
	return style.HelpStyle.Render(
		fmt.Sprintf("'%s'/'%s' to page, '%s' for parent, '%s' to type a path, '%s' to open or send",
			m.keys.Left.Help().Key, m.keys.Right.Help().Key, m.keys.Parent.Help().Key,
			m.keys.ToggleInput.Help().Key, m.keys.Confirm.Help().Key),
	)
}

func (m Model) visibleItems() int {
	headerHeight := 9
	if m.inputErr != nil {
		headerHeight++
	}
	visible := m.height - headerHeight
	if visible < 1 {
		visible = 10
	}
	return visible
}
