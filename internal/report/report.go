// Package report renders run summaries and run history for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/sensorsplit/sensorsplit/internal/ledger"
	"github.com/sensorsplit/sensorsplit/pkg/bytesize"
	"github.com/sensorsplit/sensorsplit/pkg/types"
)

var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(accent).Bold(true)
)

const missing = "-"

// Row is one tenant's line of the comparison table.
type Row struct {
	Tenant          string
	RawTimeMS       string
	RawMemory       string
	FrameworkTimeMS string
	FrameworkMemory string
	TimeOverhead    string
	MemoryDelta     string
	Utility         string
}

// Rows builds the comparison rows for every tenant present in either kind,
// ordered by tenant.
func Rows(s types.RunSummary) []Row {
	seen := make(map[string]struct{})
	for t := range s.Raw {
		seen[t] = struct{}{}
	}
	for t := range s.Framework {
		seen[t] = struct{}{}
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	rows := make([]Row, 0, len(tenants))
	for _, t := range tenants {
		row := Row{
			Tenant:          t,
			RawTimeMS:       missing,
			RawMemory:       missing,
			FrameworkTimeMS: missing,
			FrameworkMemory: missing,
			TimeOverhead:    missing,
			MemoryDelta:     missing,
			Utility:         missing,
		}
		raw, hasRaw := s.Raw[t]
		fw, hasFW := s.Framework[t]
		if hasRaw {
			row.RawTimeMS = fmt.Sprintf("%.2f", raw.ExecutionTimeMS)
			row.RawMemory = raw.MemoryUsed
		}
		if hasFW {
			row.FrameworkTimeMS = fmt.Sprintf("%.2f", fw.ExecutionTimeMS)
			row.FrameworkMemory = fw.MemoryUsed
			if u := formatUtility(fw.UtilityCheck); u != "" {
				row.Utility = u
			}
		}
		if hasRaw && hasFW {
			if raw.ExecutionTimeMS > 0 {
				row.TimeOverhead = fmt.Sprintf("%+.1f%%", (fw.ExecutionTimeMS-raw.ExecutionTimeMS)/raw.ExecutionTimeMS*100)
			}
			row.MemoryDelta = memoryDelta(raw.MemoryUsed, fw.MemoryUsed)
		}
		rows = append(rows, row)
	}
	return rows
}

func memoryDelta(raw, fw string) string {
	r, err := bytesize.ParseFloat(raw)
	if err != nil {
		return missing
	}
	f, err := bytesize.ParseFloat(fw)
	if err != nil {
		return missing
	}
	d := f - r
	if d < 0 {
		return "-" + bytesize.FormatFloat(-d)
	}
	return "+" + bytesize.FormatFloat(d)
}

func formatUtility(m map[string]float64) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.2f", k, m[k])
	}
	return strings.Join(parts, " ")
}

// SummaryTable renders the comparison table.
func SummaryTable(s types.RunSummary) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("TENANT", "RAW MS", "RAW MEMORY", "FRAMEWORK MS", "FRAMEWORK MEMORY", "TIME OVERHEAD", "MEMORY DELTA", "UTILITY CHECK")

	for _, r := range Rows(s) {
		t.Row(r.Tenant, r.RawTimeMS, r.RawMemory, r.FrameworkTimeMS, r.FrameworkMemory, r.TimeOverhead, r.MemoryDelta, r.Utility)
	}
	return t.Render()
}

// Summary writes a titled comparison table.
func Summary(w io.Writer, title string, s types.RunSummary) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	if s.Timestamp != "" {
		b.WriteString(" " + mutedStyle.Render(s.Timestamp))
	}
	b.WriteString("\n")
	if len(s.Raw) == 0 && len(s.Framework) == 0 {
		b.WriteString(mutedStyle.Render("no successful outcomes recorded"))
		b.WriteString("\n")
	} else {
		b.WriteString(SummaryTable(s))
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Runs writes the run history table.
func Runs(w io.Writer, runs []*ledger.RunRecord) error {
	if len(runs) == 0 {
		_, err := io.WriteString(w, mutedStyle.Render("no runs recorded")+"\n")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("RUN", "STARTED", "DURATION", "TENANTS", "OUTCOMES", "FAILURES", "STATUS")

	for _, r := range runs {
		duration := missing
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(1e6).String()
		}
		t.Row(
			r.ID,
			r.StartedAt.Format(types.TimestampLayout),
			duration,
			strings.Join(r.Tenants, ","),
			fmt.Sprintf("%d", r.Outcomes),
			fmt.Sprintf("%d", r.Failures),
			status(r),
		)
	}
	_, err := io.WriteString(w, t.Render()+"\n")
	return err
}

func status(r *ledger.RunRecord) string {
	switch {
	case !r.Finished():
		return mutedStyle.Render("running")
	case r.Status == ledger.RunStatusFailed:
		return failStyle.Render(r.Status)
	default:
		return successStyle.Render(r.Status)
	}
}
