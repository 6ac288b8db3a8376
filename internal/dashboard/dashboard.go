// Package dashboard is a live terminal view over one run, fed by an
// OutcomeCallback. It keeps its own lightweight running counters rather
// than reaching into the metrics aggregator, which isn't exposed across
// that boundary.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voltrace/loadgen/pkg/loadtest"
)

// outcomeMsg wraps a recorded TaskOutcome for delivery through the Bubble
// Tea event loop, so Update stays single-threaded even though outcomes
// arrive from worker goroutines.
type outcomeMsg loadtest.TaskOutcome

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the Bubble Tea model driving the live dashboard.
type Model struct {
	cfg   loadtest.TestConfig
	start time.Time

	prog progress.Model

	total, success, failure int64
	statusCodes             map[int]int64
	rpsHistory              []int
	windowCount             int64
	windowStart             time.Time

	latest loadtest.ResponseTimeSummary // best-effort, updated from recent outcomes
	tick   int
}

// New builds a dashboard Model for cfg. Feed it outcomes with Callback
// and drive it with a *tea.Program in the usual Bubble Tea fashion.
func New(cfg loadtest.TestConfig) *Model {
	return &Model{
		cfg:         cfg,
		start:       time.Now(),
		prog:        progress.New(progress.WithScaledGradient("#00FFFF", "#FF6B9D"), progress.WithoutPercentage()),
		statusCodes: make(map[int]int64),
		windowStart: time.Now(),
	}
}

func (m *Model) Init() tea.Cmd { return tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case outcomeMsg:
		m.record(loadtest.TaskOutcome(msg))
		return m, nil
	case tickMsg:
		m.tick++
		if time.Since(m.windowStart) >= time.Second {
			m.rpsHistory = append(m.rpsHistory, int(m.windowCount))
			if len(m.rpsHistory) > 40 {
				m.rpsHistory = m.rpsHistory[len(m.rpsHistory)-40:]
			}
			m.windowCount = 0
			m.windowStart = time.Now()
		}
		return m, tickCmd()
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) record(o loadtest.TaskOutcome) {
	m.total++
	m.windowCount++
	if o.Success {
		m.success++
	} else {
		m.failure++
	}
	if o.StatusCode != 0 {
		m.statusCodes[o.StatusCode]++
	}

	ms := time.Duration(o.ResponseTimeMs * float64(time.Millisecond))
	switch {
	case ms > m.latest.Max:
		m.latest.Max = ms
	}
	if m.latest.Min == 0 || ms < m.latest.Min {
		m.latest.Min = ms
	}
	// Exponential moving estimate in lieu of a live percentile recompute —
	// exact percentiles are available from RunResult at end of run.
	m.latest.P50 = ewma(m.latest.P50, ms, 0.05)
	m.latest.P95 = ewma(m.latest.P95, ms, 0.02)
	m.latest.P99 = ewma(m.latest.P99, ms, 0.01)
}

func ewma(prev, sample time.Duration, alpha float64) time.Duration {
	if prev == 0 {
		return sample
	}
	return time.Duration(float64(prev)*(1-alpha) + float64(sample)*alpha)
}

// Callback returns an OutcomeCallback that feeds outcomes into prog,
// which must be the same *tea.Program running this Model.
func Callback(prog *tea.Program) loadtest.OutcomeCallback {
	return func(o loadtest.TaskOutcome) {
		prog.Send(outcomeMsg(o))
	}
}

func (m *Model) View() string {
	var s strings.Builder

	header := lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render(logo)
	header += "  " + metaStyle.Render(fmt.Sprintf("%s | %d users | max pool %d", m.cfg.Profile, m.cfg.ConcurrentUsers, m.cfg.MaxThreadPoolSize))
	s.WriteString(headerBoxStyle.Render(header))
	s.WriteString("\n\n")

	elapsed := time.Since(m.start)
	deadline := m.cfg.Duration
	if deadline == 0 {
		deadline = m.cfg.StabilityDuration
	}
	pct := 0.0
	if deadline > 0 {
		pct = float64(elapsed) / float64(deadline)
		if pct > 1.0 {
			pct = 1.0
		}
	}
	s.WriteString(m.prog.ViewAs(pct))
	s.WriteString("\n")
	s.WriteString(metaStyle.Render(fmt.Sprintf("elapsed %s", elapsed.Round(time.Second))))
	s.WriteString("\n\n")

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(m.total) / elapsed.Seconds()
	}

	perfBox := dashBoxStyle.Copy().BorderForeground(purpleColor).Width(24).Render(fmt.Sprintf(
		"%s\nRPS:  %.1f\nSpark: %s",
		lipgloss.NewStyle().Foreground(purpleColor).Bold(true).Render("Throughput"),
		rps, sparkline(m.rpsHistory),
	))

	latencyBox := dashBoxStyle.Copy().BorderForeground(orangeColor).Width(24).Render(fmt.Sprintf(
		"%s\nP50: %s\nP95: %s\nP99: %s",
		lipgloss.NewStyle().Foreground(orangeColor).Bold(true).Render("Latency"),
		m.latest.P50.Round(time.Millisecond), m.latest.P95.Round(time.Millisecond), m.latest.P99.Round(time.Millisecond),
	))

	failPct := 0.0
	if m.total > 0 {
		failPct = float64(m.failure) / float64(m.total) * 100
	}
	failStyle := successText
	if failPct > 0 {
		failStyle = warnText
	}
	if failPct > 5 {
		failStyle = errText
	}
	resultsBox := dashBoxStyle.Copy().BorderForeground(accentColor).Width(26).Render(fmt.Sprintf(
		"%s\nTotal:   %d\nSuccess: %s\nFailed:  %s",
		lipgloss.NewStyle().Foreground(accentColor).Bold(true).Render("Results"),
		m.total,
		successText.Render(fmt.Sprintf("%d", m.success)),
		failStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.failure, failPct)),
	))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, perfBox, latencyBox, resultsBox))
	s.WriteString("\n\n")
	s.WriteString(statusCodeBars(m.statusCodes, m.total))

	return s.String()
}

func statusCodeBars(codes map[int]int64, total int64) string {
	if len(codes) == 0 {
		return metaStyle.Render("waiting for responses...")
	}
	type kv struct {
		code  int
		count int64
	}
	sorted := make([]kv, 0, len(codes))
	for c, n := range codes {
		sorted = append(sorted, kv{c, n})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].count > sorted[j].count })

	var maxCount int64
	for _, item := range sorted {
		if item.count > maxCount {
			maxCount = item.count
		}
	}

	const barWidth = 20
	var sb strings.Builder
	for _, item := range sorted {
		style := successText
		switch {
		case item.code >= 500, item.code == 0:
			style = errText
		case item.code >= 400:
			style = warnText
		}
		barLen := 0
		if maxCount > 0 {
			barLen = int(item.count * barWidth / maxCount)
		}
		if barLen < 1 && item.count > 0 {
			barLen = 1
		}
		pct := 0.0
		if total > 0 {
			pct = float64(item.count) / float64(total) * 100
		}
		sb.WriteString(fmt.Sprintf("  %-6d %s %6d (%5.1f%%)\n",
			item.code, style.Render(strings.Repeat("█", barLen)+strings.Repeat("░", barWidth-barLen)), item.count, pct))
	}
	return sb.String()
}

func sparkline(values []int) string {
	if len(values) == 0 {
		return ""
	}
	levels := []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}
	max := 0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	var sb strings.Builder
	for _, v := range values {
		if max == 0 {
			sb.WriteString(levels[0])
			continue
		}
		idx := v * 7 / max
		if idx > 7 {
			idx = 7
		}
		sb.WriteString(levels[idx])
	}
	return sb.String()
}
