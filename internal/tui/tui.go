// Package tui implements the dashboard "mediabus serve --watch" attaches:
// the Bubble Tea view over a live Supervisor/Runtime that stands in for the
// out-of-scope native host UI, letting an operator approve a pending
// pairing code or revoke a paired device from the terminal. Grounded on
// the teacher's internal/adminui/ui.go model/update/view shape and its
// textinput-driven single-field prompts, trimmed to this app's two
// mutating actions instead of full user/key/allowlist CRUD.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/store"
	"github.com/tc3107/mediabus/internal/supervisor"
)

const pollInterval = time.Second

type mode int

const (
	modeView mode = iota
	modeApprove
)

// Model polls a live Supervisor/Runtime pair, renders their state, and
// drives the two mutating actions an operator has: approve a pending
// pairing code, or revoke a selected device.
type Model struct {
	sv *supervisor.Supervisor
	rt *runtime.Runtime

	width  int
	height int

	host      supervisor.HostState
	devices   []store.PairedDevice
	presences map[string]runtime.Presence
	selected  int

	mode      mode
	code      textinput.Model
	statusMsg string
}

// New builds a Model against a running Supervisor and Runtime.
func New(sv *supervisor.Supervisor, rt *runtime.Runtime) Model {
	code := textinput.New()
	code.Placeholder = "6-digit code"
	code.CharLimit = 6
	code.Prompt = "Approve code: "
	return Model{sv: sv, rt: rt, code: code}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the polling loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.refresh())
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg{
			host:      m.sv.State(),
			devices:   m.rt.PairedDevices(),
			presences: presenceMap(m.rt.Presences()),
		}
	}
}

type snapshotMsg struct {
	host      supervisor.HostState
	devices   []store.PairedDevice
	presences map[string]runtime.Presence
}

type actionDoneMsg struct {
	ok  bool
	msg string
}

func presenceMap(ps []runtime.DevicePresence) map[string]runtime.Presence {
	out := make(map[string]runtime.Presence, len(ps))
	for _, p := range ps {
		out[p.DeviceID] = p.Presence
	}
	return out
}

func (m Model) approveCmd(code string) tea.Cmd {
	return func() tea.Msg {
		deviceID, err := m.rt.ApproveByCode(context.Background(), code)
		if err != nil {
			return actionDoneMsg{ok: false, msg: "approve failed: " + err.Error()}
		}
		return actionDoneMsg{ok: true, msg: "approved device " + deviceID}
	}
}

func (m Model) revokeCmd(deviceID string) tea.Cmd {
	return func() tea.Msg {
		ok, err := m.rt.RevokeDevice(context.Background(), deviceID)
		if err != nil {
			return actionDoneMsg{ok: false, msg: "revoke failed: " + err.Error()}
		}
		if !ok {
			return actionDoneMsg{ok: false, msg: "device not found"}
		}
		return actionDoneMsg{ok: true, msg: "revoked " + deviceID}
	}
}

// Update handles polling ticks, window resizes, and the approve/revoke
// key bindings.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		return m, tea.Batch(tickCmd(), m.refresh())
	case snapshotMsg:
		m.host = msg.host
		m.devices = msg.devices
		sort.Slice(m.devices, func(i, j int) bool { return m.devices[i].DisplayName < m.devices[j].DisplayName })
		m.presences = msg.presences
		if m.selected >= len(m.devices) {
			m.selected = len(m.devices) - 1
		}
		return m, nil
	case actionDoneMsg:
		m.statusMsg = msg.msg
		return m, m.refresh()
	case tea.KeyMsg:
		if m.mode == modeApprove {
			switch msg.String() {
			case "esc":
				m.mode = modeView
				m.code.SetValue("")
				m.code.Blur()
				return m, nil
			case "enter":
				code := strings.TrimSpace(m.code.Value())
				m.mode = modeView
				m.code.SetValue("")
				m.code.Blur()
				if code == "" {
					return m, nil
				}
				return m, m.approveCmd(code)
			}
			var cmd tea.Cmd
			m.code, cmd = m.code.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			m.mode = modeApprove
			m.code.Focus()
			return m, nil
		case "x":
			if m.selected >= 0 && m.selected < len(m.devices) {
				return m, m.revokeCmd(m.devices[m.selected].DeviceID)
			}
			return m, nil
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.devices)-1 {
				m.selected++
			}
			return m, nil
		}
	}
	return m, nil
}

// View renders the current snapshot and, while active, the approve
// prompt.
func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "MediaBus — %s\n", statusLine(m.host))
	fmt.Fprintf(&b, "  address: https://%s:%d  (%s)\n", m.host.IPAddress, m.host.Port, m.host.Hostname)
	fmt.Fprintf(&b, "  available IPs: %s\n", strings.Join(m.host.AvailableIPs, ", "))
	fmt.Fprintf(&b, "  transfers: %d active, %d queued\n\n", m.host.TransferActive, m.host.TransferQueued)

	if len(m.devices) == 0 {
		b.WriteString("  no paired devices\n")
	} else {
		for i, d := range m.devices {
			presence := m.presences[d.DeviceID]
			cursor := "  "
			if i == m.selected {
				cursor = "> "
			}
			fmt.Fprintf(&b, "%s%-24s %-12s %s\n", cursor, d.DisplayName, presence.String(), d.LastKnownIP)
		}
	}

	b.WriteString("\n")
	if m.mode == modeApprove {
		fmt.Fprintf(&b, "  %s\n", m.code.View())
	} else if m.statusMsg != "" {
		fmt.Fprintf(&b, "  %s\n", m.statusMsg)
	}
	b.WriteString("\n  a approve code · x revoke selected · j/k move · q quit\n")
	return b.String()
}

func statusLine(h supervisor.HostState) string {
	switch {
	case h.Transitioning:
		return "rebinding..."
	case h.Running:
		return "running"
	case h.Error != "":
		return "error: " + h.Error
	default:
		return h.StatusText
	}
}
