package style

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// --- Reusable Colors ---
var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorBlue      = lipgloss.Color("57")
	colorCyan      = lipgloss.Color("212")
	colorGreen     = lipgloss.Color("42")
	colorYellow    = lipgloss.Color("214")
	colorRed       = lipgloss.Color("196")
)

// --- General Purpose Styles ---
var (
	ErrorStyle   = lipgloss.NewStyle().Foreground(colorRed)
	SuccessStyle = lipgloss.NewStyle().Foreground(colorGreen)
	WarnStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	HelpStyle    = lipgloss.NewStyle().Faint(true)
	DocStyle     = lipgloss.NewStyle().Margin(1, 2)
)

// --- Transfer Styles ---
var (
	BaseStyle          = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray)
	HighlightFontStyle = lipgloss.NewStyle().Foreground(colorCyan)
	NodeStyle          = lipgloss.NewStyle().Foreground(colorLightGray).Bold(true)
)

// --- File Picker Styles ---
var (
	CursorStyle = lipgloss.NewStyle().Foreground(colorCyan).SetString("> ")
	DirStyle    = lipgloss.NewStyle().Foreground(colorBlue).Bold(true)
	InputStyle  = lipgloss.NewStyle().Foreground(colorCyan)
	PromptStyle = lipgloss.NewStyle().Foreground(colorPink)
)

// --- Common Components ---

// NewSpinner creates a spinner with a consistent style.
func NewSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

// NewProgress creates the chunk progress bar.
func NewProgress(width int) progress.Model {
	p := progress.New(progress.WithScaledGradient(string(colorBlue), string(colorCyan)))
	p.Width = width
	return p
}

// NewTableStyles returns the default styles for tables, with our custom selection style.
func NewTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.Foreground(colorLightGray).Background(colorBlue).Bold(false)
	return styles
}
