package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	maxSubmissions = 200
	maxEventLog    = 50
	healthInterval = 5 * time.Second
	engineInterval = 2 * time.Second
	reconnectDelay = 2 * time.Second
)

// --- Types ---

// Submission is one row of the monitor's submission table.
type Submission struct {
	ID        string
	Command   string
	Targets   []int
	Status    string
	Started   time.Time
	Completed time.Time
}

// EngineState mirrors one entry of GET /engines.
type EngineState struct {
	ID        int   `json:"id"`
	Busy      bool  `json:"busy"`
	Completed int64 `json:"completed"`
}

type monitorHealth struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Engines       int    `json:"engines"`
	EnginesBusy   int    `json:"engines_busy"`
}

type monitorEventMsg events.Event
type monitorHealthMsg monitorHealth
type monitorEnginesMsg []EngineState
type monitorErrMsg struct{ err error }
type sseDisconnectedMsg struct{}
type reconnectMsg struct{}
type pollHealthMsg struct{}
type pollEnginesMsg struct{}

// Monitor is a bubbletea model that follows a session's status API: engine load,
// submissions as they are created and finish, and the raw event stream.
type Monitor struct {
	apiURL string
	apiKey string
	client *http.Client

	width  int
	height int

	subs       map[string]*Submission
	order      []string
	engines    []EngineState
	eventLog   []events.Event
	hubEvents  chan events.Event
	health     monitorHealth
	autoActive bool
	connected  bool
	lastErr    error

	table table.Model
}

// NewMonitor creates a monitor for the API at apiURL. apiKey may be empty.
func NewMonitor(apiURL, apiKey string) *Monitor {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "ID", Width: 8},
			{Title: "Engines", Width: 14},
			{Title: "Command", Width: 30},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Monitor{
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{},
		subs:      make(map[string]*Submission),
		hubEvents: make(chan events.Event, 100),
		table:     t,
	}
}

func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
		m.receiveNextEvent(),
		m.fetchHealth,
		m.fetchEngines,
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(m.width-6, 20))

	case monitorEventMsg:
		m.connected = true
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case monitorHealthMsg:
		m.health = monitorHealth(msg)
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return pollHealthMsg{} })

	case pollHealthMsg:
		return m, m.fetchHealth

	case monitorEnginesMsg:
		m.engines = msg
		return m, tea.Tick(engineInterval, func(time.Time) tea.Msg { return pollEnginesMsg{} })

	case pollEnginesMsg:
		return m, m.fetchEngines

	case sseDisconnectedMsg:
		m.connected = false
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribe()

	case monitorErrMsg:
		m.lastErr = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Monitor) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	switch e.Type {
	case events.AutoDispatchEnabled:
		m.autoActive = true
		return
	case events.AutoDispatchDisabled:
		m.autoActive = false
		return
	}

	var data events.SubmissionData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.ID == "" {
		return
	}
	sub, ok := m.subs[data.ID]
	if !ok {
		sub = &Submission{ID: data.ID}
		m.subs[data.ID] = sub
		m.order = append([]string{data.ID}, m.order...)
		if len(m.order) > maxSubmissions {
			for _, old := range m.order[maxSubmissions:] {
				delete(m.subs, old)
			}
			m.order = m.order[:maxSubmissions]
		}
	}
	if data.Command != "" {
		sub.Command = data.Command
	}
	if data.Targets != nil {
		sub.Targets = data.Targets
	}

	switch e.Type {
	case events.SubmissionCreated:
		if sub.Status == "" {
			sub.Status = "running"
		}
		sub.Started = e.At
	case events.SubmissionInterrupted:
		if sub.Status == "running" {
			sub.Status = "interrupting"
		}
	case events.SubmissionCompleted:
		sub.Status = data.Status
		sub.Completed = e.At
	}
}

// Submissions returns the tracked submissions, newest first.
func (m *Monitor) Submissions() []Submission {
	out := make([]Submission, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.subs[id])
	}
	return out
}

func (m *Monitor) updateTable() {
	rows := make([]table.Row, 0, len(m.order))
	for _, id := range m.order {
		rows = append(rows, submissionRow(m.subs[id]))
	}
	m.table.SetRows(rows)
}

func submissionRow(s *Submission) table.Row {
	statusSym := statusDim.Render("○")
	switch s.Status {
	case "running", "interrupting":
		statusSym = statusRunning.Render("◉")
	case "succeeded":
		statusSym = statusOK.Render("●")
	case "failed", "aborted":
		statusSym = statusFailed.Render("∅")
	case "interrupted":
		statusSym = statusFailed.Render("◑")
	}

	duration := "-"
	if !s.Started.IsZero() {
		end := s.Completed
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(s.Started).Round(time.Millisecond).String()
	}

	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	command := strings.ReplaceAll(s.Command, "\n", "; ")

	return table.Row{
		statusSym,
		id,
		config.AbbreviateIDs(s.Targets),
		command,
		duration,
	}
}

// --- View ---

func (m *Monitor) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	subsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Submissions"),
			m.table.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := statusDim.Render(" [q] Quit • [↑/↓] Scroll submissions")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderHeader(),
			m.renderEngines(),
			subsView,
			eventsView,
			help,
		),
	)
}

func (m *Monitor) renderHeader() string {
	status := statusOK.Render("CONNECTED")
	switch {
	case !m.connected:
		status = statusFailed.Render("DISCONNECTED")
	case m.health.Status != "ok" && m.health.Status != "":
		status = statusFailed.Render("DEGRADED")
	}

	mode := statusDim.Render("local")
	if m.autoActive {
		mode = statusRunning.Render("autopx")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime),
		fmt.Sprintf("Engines: %d/%d busy", m.health.EnginesBusy, m.health.Engines),
		fmt.Sprintf("Mode: %s", mode),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = cell.Render(it)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m *Monitor) renderEngines() string {
	if len(m.engines) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.engines))
	for _, e := range m.engines {
		sym := statusDim.Render("○")
		if e.Busy {
			sym = statusRunning.Render("◉")
		}
		parts = append(parts, fmt.Sprintf("%s %d (%d)", sym, e.ID, e.Completed))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(parts, "  "))
}

func (m *Monitor) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-22s | %s", ts, e.Type, string(e.Data)))
	}
	if m.lastErr != nil {
		lines = append(lines, statusFailed.Render("error: "+m.lastErr.Error()))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m *Monitor) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	return req, nil
}

// subscribe streams /events into hubEvents until the connection drops.
func (m *Monitor) subscribe() tea.Cmd {
	return func() tea.Msg {
		req, err := m.newRequest(context.Background(), "/events")
		if err != nil {
			return monitorErrMsg{err}
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return monitorErrMsg{fmt.Errorf("GET /events: %s", resp.Status)}
		}

		_ = ReadSSE(resp.Body, m.hubEvents)
		return sseDisconnectedMsg{}
	}
}

func (m *Monitor) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return monitorEventMsg(<-m.hubEvents)
	}
}

func (m *Monitor) fetchHealth() tea.Msg {
	var h monitorHealth
	if err := m.getJSON("/healthz", &h); err != nil {
		return monitorErrMsg{err}
	}
	return monitorHealthMsg(h)
}

func (m *Monitor) fetchEngines() tea.Msg {
	var body struct {
		Engines []EngineState `json:"engines"`
	}
	if err := m.getJSON("/engines", &body); err != nil {
		return monitorErrMsg{err}
	}
	return monitorEnginesMsg(body.Engines)
}

func (m *Monitor) getJSON(path string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := m.newRequest(ctx, path)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ReadSSE parses a server-sent event stream from r and sends each complete event
// to ch. It returns when r is exhausted.
func ReadSSE(r io.Reader, ch chan<- events.Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		id   int64
		typ  string
		data strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				ch <- events.Event{
					ID:   id,
					Type: typ,
					At:   time.Now(),
					Data: json.RawMessage(data.String()),
				}
			}
			id, typ = 0, ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if n, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = n
			}
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
	return scanner.Err()
}
