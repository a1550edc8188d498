package recorder

import (
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"precision-land/internal/control"
	"precision-land/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a log line for the viewport.
type logMsg struct{ line string }

// sampleMsg updates the live position panel.
type sampleMsg struct{ telemetry.SampleRow }

// eventMsg updates the controller state panel.
type eventMsg struct{ telemetry.EventRow }

const maxLogLines = 2000

// TUIWriter renders the flight in a bubbletea TUI. Samples update the
// status panel only; commands and events are logged.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(bands control.BandTable) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(bands), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

func (w *TUIWriter) WriteSample(r telemetry.SampleRow) error {
	w.program.Send(sampleMsg{r})
	return nil
}

func (w *TUIWriter) WriteCommand(r telemetry.CommandRow) error {
	w.program.Send(logMsg{line: commandLine(r)})
	return nil
}

func (w *TUIWriter) WriteEvent(r telemetry.EventRow) error {
	w.program.Send(eventMsg{r})
	w.program.Send(logMsg{line: eventLine(r)})
	return nil
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	table        table.Model
	vp           viewport.Model
	logs         []string
	sample       telemetry.SampleRow
	haveSample   bool
	state        string
	band         int
	wrap         bool
	autoscroll   bool
	header       string
	headerHeight int
	height       int
}

func newTUIModel(bands control.BandTable) tuiModel {
	cols := []table.Column{
		{Title: "Band", Width: 6},
		{Title: "Altitude (m)", Width: 14},
		{Title: "Action", Width: 14},
		{Title: "Speed", Width: 7},
		{Title: "Rate", Width: 6},
	}
	var rows []table.Row
	for i, b := range bands {
		upper := "∞"
		if !math.IsInf(b.UpperM, 1) {
			upper = fmt.Sprintf("%.2f", b.UpperM)
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%.2f-%s", b.LowerM, upper),
			b.Action.String(),
			fmt.Sprintf("%.1f", b.MaxSpeedMPS),
			fmt.Sprintf("%.2f", b.DescentRateMPS),
		})
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	return tuiModel{
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
		state:      "WAITING",
		band:       -1,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.vp.Width = msg.Width
		m.table.SetWidth(msg.Width / 2)
		m.height = msg.Height
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshViewport()
	case sampleMsg:
		m.sample, m.haveSample = msg.SampleRow, true
		m.header = m.renderHeader()
	case eventMsg:
		if msg.State != "" {
			m.state = msg.State
		}
		if msg.Kind == telemetry.EventBand {
			m.band = msg.Band
			m.table.SetCursor(msg.Band)
		}
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
	}
	return m, nil
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - m.headerHeight - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	var lines []string
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) renderHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State  %s\n", m.state)
	if m.band >= 0 {
		fmt.Fprintf(&b, "Band   %d\n", m.band)
	}
	if m.haveSample {
		fmt.Fprintf(&b, "Lat    %.7f\nLon    %.7f\nAlt    %.2f m\nYaw    %.1f°",
			m.sample.Lat, m.sample.Lon, m.sample.AltM, m.sample.YawDeg)
	} else {
		b.WriteString("no position yet")
	}
	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("│")
	return lipgloss.JoinHorizontal(lipgloss.Top, m.table.View(), sep, b.String())
}

func (m tuiModel) View() string {
	divider := strings.Repeat("─", m.vp.Width)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("q quit • w wrap • s autoscroll")
	return strings.Join([]string{m.header, divider, m.vp.View(), divider, help}, "\n")
}
