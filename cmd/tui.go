// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/portalstat/pkg/figures"
	"github.com/Thermoquad/portalstat/pkg/portal"
	"github.com/Thermoquad/portalstat/pkg/session"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	gridColumns   = 4
	gridCellWidth = 18
	progressWidth = 20
	listWidth     = 32
)

// Focus states
const (
	focusPortalList = iota
	focusSlotGrid
	focusColorInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// logEntry is one line of the event log
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// portalItem is a portal in the list panel
type portalItem struct {
	name    string
	info    string
	figures int
}

// Implement list.Item interface
func (p portalItem) Title() string { return p.name }
func (p portalItem) Description() string {
	return fmt.Sprintf("%d figure(s)", p.figures)
}
func (p portalItem) FilterValue() string { return p.name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	portals    []*openPortal
	portalList list.Model

	// Latest slot map per portal, as delivered by the pollers
	slots        []map[int]figures.FigureInfo
	selectedSlot int

	eventLog      []logEntry
	maxLogEntries int

	colorInput   textinput.Model
	focusedField int
	lights       *atomic.Bool

	started  time.Time
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

// pollMsg carries the result of one poll cycle
type pollMsg struct {
	portal  int
	events  []session.Event
	figures map[int]figures.FigureInfo
}

// pollerStoppedMsg reports a poller that exited early
type pollerStoppedMsg struct {
	portal int
	err    error
}

// commandResultMsg reports a command sent to a portal
type commandResultMsg struct {
	portal int
	action string
	err    error
}

// decryptMsg carries the result of an on-demand stats read
type decryptMsg struct {
	portal int
	slot   int
	info   figures.FigureInfo
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(portals []*openPortal, lights *atomic.Bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "#00FFFF or 0,255,255"
	ti.CharLimit = 16
	ti.Width = 22

	items := make([]list.Item, len(portals))
	slots := make([]map[int]figures.FigureInfo, len(portals))
	for i, p := range portals {
		items[i] = portalItem{name: p.Name(), info: p.Info}
		slots[i] = map[int]figures.FigureInfo{}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	portalList := list.New(items, delegate, listWidth-2, 10)
	portalList.Title = "Portals"
	portalList.SetShowStatusBar(false)
	portalList.SetShowHelp(false)
	portalList.SetFilteringEnabled(false)

	return monitorModel{
		portals:       portals,
		portalList:    portalList,
		slots:         slots,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		colorInput:    ti,
		focusedField:  focusSlotGrid,
		lights:        lights,
		started:       time.Now(),
		width:         100,
		height:        30,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.portalList.SetSize(listWidth-2, m.listHeight())

	case monitorTickMsg:
		for _, p := range m.portals {
			p.Statistics().CalculateRates()
		}
		return m, monitorTickCmd()

	case pollMsg:
		m.applyPoll(msg)

	case pollerStoppedMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: poller stopped: %v", m.portalName(msg.portal), msg.err), true)
		}

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %s failed: %v", m.portalName(msg.portal), msg.action, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s: %s", m.portalName(msg.portal), msg.action), false)
		}

	case decryptMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Slot %d: %v", msg.slot, msg.err), true)
			break
		}
		m.slots[msg.portal][msg.slot] = msg.info
		if d, ok := msg.info.Decrypted(); ok {
			m.addLogEntry(fmt.Sprintf("Slot %d: %s Level %d, %d gold", msg.slot, msg.info.Name, d.Level, d.Gold), false)
		} else {
			m.addLogEntry(fmt.Sprintf("Slot %d: %s stats unavailable", msg.slot, msg.info.Name), true)
		}
	}

	return m, nil
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		m.quitting = true
		return *m, tea.Quit
	case "tab":
		cmd := m.cycleFocus(1)
		return *m, cmd
	case "shift+tab":
		cmd := m.cycleFocus(-1)
		return *m, cmd
	}

	switch m.focusedField {
	case focusColorInput:
		if key == "enter" {
			cmd := m.submitColor()
			return *m, cmd
		}
		if key == "esc" {
			cmd := m.cycleFocus(-1)
			return *m, cmd
		}
		var cmd tea.Cmd
		m.colorInput, cmd = m.colorInput.Update(msg)
		return *m, cmd

	case focusPortalList:
		if key == "q" {
			m.quitting = true
			return *m, tea.Quit
		}
		var cmd tea.Cmd
		m.portalList, cmd = m.portalList.Update(msg)
		return *m, cmd
	}

	switch key {
	case "q":
		m.quitting = true
		return *m, tea.Quit
	case "left", "h":
		m.moveSelection(-1)
	case "right", "l":
		m.moveSelection(1)
	case "up", "k":
		m.moveSelection(-gridColumns)
	case "down", "j":
		m.moveSelection(gridColumns)
	case "d", "enter":
		cmd := m.decryptSelected()
		return *m, cmd
	case "e":
		cmd := m.toggleLights()
		return *m, cmd
	case "t":
		cmd := m.portalCommand("trap light flashed", func(p *openPortal) error { return p.FlashTrapLight() })
		return *m, cmd
	case "m":
		cmd := m.portalCommand("speaker activated", func(p *openPortal) error { return p.ActivateSpeaker() })
		return *m, cmd
	}
	return *m, nil
}

func (m *monitorModel) cycleFocus(delta int) tea.Cmd {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusColorInput {
		return m.colorInput.Focus()
	}
	m.colorInput.Blur()
	return nil
}

func (m *monitorModel) moveSelection(delta int) {
	next := m.selectedSlot + delta
	if next < 0 || next >= portal.SlotCount {
		return
	}
	m.selectedSlot = next
}

func (m *monitorModel) listHeight() int {
	h := m.height - 14
	if h < 4 {
		h = 4
	}
	return h
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m monitorModel) selectedPortal() (int, *openPortal) {
	if len(m.portals) == 0 {
		return -1, nil
	}
	idx := m.portalList.Index()
	if idx < 0 || idx >= len(m.portals) {
		idx = 0
	}
	return idx, m.portals[idx]
}

func (m monitorModel) portalName(idx int) string {
	if idx < 0 || idx >= len(m.portals) {
		return "portal"
	}
	return m.portals[idx].Name()
}

// portalCommand runs fn against the selected portal off the UI goroutine
func (m *monitorModel) portalCommand(action string, fn func(*openPortal) error) tea.Cmd {
	idx, p := m.selectedPortal()
	if p == nil {
		return nil
	}
	return func() tea.Msg {
		return commandResultMsg{portal: idx, action: action, err: fn(p)}
	}
}

func (m *monitorModel) submitColor() tea.Cmd {
	c, err := figures.ParseRGB(m.colorInput.Value())
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return nil
	}
	m.colorInput.SetValue("")
	if m.lights.Load() {
		m.lights.Store(false)
		m.addLogEntry("Element lighting off", false)
	}
	return m.portalCommand("color set to "+c.String(), func(p *openPortal) error {
		return p.SetColor(c)
	})
}

func (m *monitorModel) toggleLights() tea.Cmd {
	on := !m.lights.Load()
	m.lights.Store(on)
	if !on {
		m.addLogEntry("Element lighting off", false)
		return nil
	}
	return m.portalCommand("element lighting on", func(p *openPortal) error {
		_, err := p.ApplyElementLighting()
		return err
	})
}

func (m *monitorModel) decryptSelected() tea.Cmd {
	idx, p := m.selectedPortal()
	if p == nil {
		return nil
	}
	slot := m.selectedSlot
	if _, ok := m.slots[idx][slot]; !ok {
		m.addLogEntry(fmt.Sprintf("Slot %d is empty", slot), true)
		return nil
	}
	m.addLogEntry(fmt.Sprintf("Slot %d: reading stats...", slot), false)
	return func() tea.Msg {
		info, err := p.Decrypt(slot)
		return decryptMsg{portal: idx, slot: slot, info: info, err: err}
	}
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) applyPoll(msg pollMsg) {
	if msg.portal < 0 || msg.portal >= len(m.slots) {
		return
	}
	m.slots[msg.portal] = msg.figures

	name := m.portalName(msg.portal)
	for _, ev := range msg.events {
		switch ev.Kind {
		case session.Placed:
			line := fmt.Sprintf("%s: + slot %d %s", name, ev.Slot, ev.Figure)
			if !ev.Figure.Identified {
				line += " [unreadable]"
			}
			m.addLogEntry(line, !ev.Figure.Identified)
		case session.Identified:
			m.addLogEntry(fmt.Sprintf("%s: = slot %d %s", name, ev.Slot, ev.Figure), false)
		case session.Removed:
			line := fmt.Sprintf("%s: - slot %d %s", name, ev.Slot, ev.Figure.Name)
			if ev.Debounced {
				line += " [debounced]"
			}
			m.addLogEntry(line, false)
		}
	}

	items := m.portalList.Items()
	if msg.portal < len(items) {
		if item, ok := items[msg.portal].(portalItem); ok {
			item.figures = len(msg.figures)
			m.portalList.SetItem(msg.portal, item)
		}
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

// rgbColor converts a portal color for lipgloss
func rgbColor(c figures.RGB) lipgloss.Color {
	return lipgloss.Color(c.String())
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("PORTALSTAT MONITOR"))
	s.WriteString(" ")
	lights := "off"
	if m.lights.Load() {
		lights = "element"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| up %s | lights: %s | q=quit Tab=switch d=stats e=lights t=trap m=speaker",
		formatElapsed(time.Since(m.started)), lights)))
	s.WriteString("\n\n")

	idx, p := m.selectedPortal()
	if p == nil {
		s.WriteString(warningStyle.Render("No portals open"))
		return s.String()
	}

	listStyle := boxStyle
	if m.focusedField == focusPortalList {
		listStyle = focusedBoxStyle
	}
	left := listStyle.Width(listWidth).Render(m.portalList.View())

	gridStyle := boxStyle
	if m.focusedField == focusSlotGrid {
		gridStyle = focusedBoxStyle
	}
	right := lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render(p.Info),
		gridStyle.Render(m.renderGrid(idx)),
		boxStyle.Render(m.renderDetails(idx)),
		m.renderColorInput(),
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")
	s.WriteString(m.renderStatistics(p))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())
	return s.String()
}

func (m monitorModel) renderGrid(idx int) string {
	var rows []string
	for row := 0; row < portal.SlotCount/gridColumns; row++ {
		var cells []string
		for col := 0; col < gridColumns; col++ {
			slot := row*gridColumns + col
			cells = append(cells, m.renderCell(idx, slot))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m monitorModel) renderCell(idx, slot int) string {
	style := lipgloss.NewStyle().Width(gridCellWidth)
	label := fmt.Sprintf("%2d ", slot)

	f, ok := m.slots[idx][slot]
	text := headerStyle.Render(label + "·")
	if ok {
		name := truncate(f.Name, gridCellWidth-4)
		text = label + lipgloss.NewStyle().Foreground(rgbColor(f.Color())).Bold(true).Render(name)
	}
	if slot == m.selectedSlot {
		style = style.Underline(true).Background(lipgloss.Color("236"))
	}
	return style.Render(text)
}

func (m monitorModel) renderDetails(idx int) string {
	var s strings.Builder
	slot := m.selectedSlot
	f, ok := m.slots[idx][slot]
	if !ok {
		s.WriteString(headerStyle.Render(fmt.Sprintf("Slot %d: empty", slot)))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s  %s %s  %s 0x%02X (0x%04X)\n",
		labelStyle.Render("Slot "+fmt.Sprint(slot)+":"),
		lipgloss.NewStyle().Foreground(rgbColor(f.Color())).Bold(true).Render(f.Name),
		labelStyle.Render("Element:"), valueStyle.Render(f.Element.String()),
		labelStyle.Render("ID:"), f.FigureID, f.FullID))

	if !f.Identified {
		s.WriteString(warningStyle.Render("Tag could not be read"))
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Stats:"), valueStyle.Render(f.LevelDisplay())))
	if d, ok := f.Decrypted(); ok {
		s.WriteString(fmt.Sprintf("  %s %s  %s %d",
			progressBar(f.ExperienceProgress(), progressWidth), f.ExperienceDisplay(),
			labelStyle.Render("Gold:"), d.Gold))
		if pt := d.Playtime(); pt != "" {
			s.WriteString(fmt.Sprintf("  %s %s", labelStyle.Render("Played:"), pt))
		}
	} else if f.Stats != nil {
		s.WriteString("  " + warningStyle.Render("stats unavailable: "+f.Stats.Message()))
	} else {
		s.WriteString("  " + headerStyle.Render("(press d to read)"))
	}
	return s.String()
}

func (m monitorModel) renderColorInput() string {
	label := labelStyle.Render("Color: ")
	if m.focusedField == focusColorInput {
		return label + m.colorInput.View()
	}
	return label + headerStyle.Render("[Tab to edit]")
}

func (m monitorModel) renderStatistics(p *openPortal) string {
	snap := p.Statistics().Snapshot()

	errs := snap.Errors()
	errText := valueStyle.Render("0")
	if errs > 0 {
		errText = errorStyle.Render(fmt.Sprint(errs))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprint(snap.CommandsSent)),
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprint(snap.TotalFrames)),
		labelStyle.Render("Timeouts:"), valueStyle.Render(fmt.Sprint(snap.Timeouts)),
		labelStyle.Render("Stale:"), valueStyle.Render(fmt.Sprint(snap.StaleReplies)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f fr/s", snap.FrameRate)),
		labelStyle.Render("Cache:"), valueStyle.Render(fmt.Sprint(p.CacheLen())),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}
	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Formatting helpers
//////////////////////////////////////////////////////////////

// progressBar renders a fraction as a fixed-width text bar
func progressBar(frac float64, width int) string {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	filled := int(frac*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// formatElapsed formats a duration as "2 hours and 5 minutes"
func formatElapsed(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, u := range units {
		n := secs / u.size
		secs %= u.size
		if n == 0 {
			continue
		}
		if n == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}
