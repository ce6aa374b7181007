// Command symmon is an interactive inspector over a symbolic memory: a
// small bubbletea TUI that lets you step through a scripted sequence of
// writes and watch how the backing array and its cells change.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/newhook/symex/memory"
	"github.com/newhook/symex/solver"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	changed   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF6B6B"}

	titleStyle = lipgloss.NewStyle().Foreground(subtle).Padding(0, 1)

	memoryStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(special).
			Padding(1).
			Width(64)

	logStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(1).
			Width(64)

	changedStyle = lipgloss.NewStyle().Foreground(changed).Bold(true)
	symbolStyle  = lipgloss.NewStyle().Foreground(highlight)
)

// step is one entry of the scripted demo: a write at a concrete address,
// or a symbolic write, with a human label.
type step struct {
	label string
	addr  uint64
	value uint64
	width uint32
	sym   bool
}

var demo = []step{
	{label: "write 0x12345678 (32 bits) at 0x10000", addr: 0x10000, value: 0x1234_5678, width: 32},
	{label: "write 0xdcba (16 bits) at 0x10002", addr: 0x10002, value: 0xDCBA, width: 16},
	{label: "write 0x4f (8 bits) at 0x10009, in the next cell", addr: 0x10009, value: 0x4F, width: 8},
	{label: "write a fresh symbolic value at a symbolic address", sym: true},
}

type model struct {
	h   *solver.Handle
	mem *memory.Memory

	stepIndex int
	cellAddr  uint64 // first cell displayed, as a cell index (address/8)
	width, height int

	showingGoto bool
	gotoInput   textinput.Model

	history []string
}

func initialModel() model {
	h := solver.NewHandle()
	ti := textinput.New()
	ti.Placeholder = "cell index (hex)"
	ti.CharLimit = 8
	ti.Width = 12
	return model{
		h:         h,
		mem:       memory.NewUninitialized(h),
		stepIndex: 0,
		cellAddr:  0x10000 / memory.CellBytes,
		gotoInput: ti,
		history:   []string{"ready, press n to apply the next write"},
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if m.showingGoto {
			switch msg.Type {
			case tea.KeyEnter:
				if idx, err := strconv.ParseUint(strings.TrimSpace(m.gotoInput.Value()), 16, 64); err == nil {
					m.cellAddr = idx
				}
				m.showingGoto = false
				return m, nil
			case tea.KeyEsc:
				m.showingGoto = false
				return m, nil
			}
			var cmd tea.Cmd
			m.gotoInput, cmd = m.gotoInput.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "n":
			m.applyNextStep()
		case "g":
			m.showingGoto = true
			m.gotoInput.SetValue("")
			m.gotoInput.Focus()
			return m, textinput.Blink
		case "up", "k":
			if m.cellAddr > 0 {
				m.cellAddr--
			}
		case "down", "j":
			m.cellAddr++
		}
	}
	return m, nil
}

func (m *model) applyNextStep() {
	if m.stepIndex >= len(demo) {
		m.history = append(m.history, "no more scripted writes")
		return
	}
	s := demo[m.stepIndex]
	m.stepIndex++
	if s.sym {
		addr := m.h.FreshBV(memory.IndexBits, "addr")
		val := m.h.FreshBV(64, "val")
		m.mem.Write(addr, val)
		m.history = append(m.history, s.label)
		return
	}
	m.mem.Write(m.h.ConstU64(s.addr, memory.IndexBits), m.h.ConstU64(s.value, s.width))
	m.history = append(m.history, s.label)
}

func (m model) formatMemory() string {
	var b strings.Builder
	for row := 0; row < 8; row++ {
		cellIdx := m.cellAddr + uint64(row)
		addr := cellIdx * memory.CellBytes
		b.WriteString(fmt.Sprintf("$%010X: ", addr))
		cell := m.mem.Read(m.h.ConstU64(addr, memory.IndexBits), memory.CellBits)
		if v, ok := cell.AsU64(); ok {
			b.WriteString(fmt.Sprintf("%016X", v))
		} else {
			b.WriteString(symbolStyle.Render("<symbolic>"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) View() string {
	title := titleStyle.Render("symmon: symbolic memory inspector")
	mem := memoryStyle.Render(m.formatMemory())

	var hist strings.Builder
	start := 0
	if len(m.history) > 10 {
		start = len(m.history) - 10
	}
	for _, line := range m.history[start:] {
		hist.WriteString(line)
		hist.WriteString("\n")
	}
	logPane := logStyle.Render(strings.TrimRight(hist.String(), "\n"))

	help := "n: apply next write  g: goto cell  j/k: scroll  q: quit"
	if m.showingGoto {
		help = "goto cell (hex): " + m.gotoInput.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, mem, logPane, help)
}

func main() {
	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("symmon: error running program:", err)
	}
}
