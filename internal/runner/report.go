package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitrinehq/vitrine/internal/manifest"
)

// ReportFormat selects a report rendering.
type ReportFormat string

const (
	// FormatJSON produces the machine-readable report.
	FormatJSON ReportFormat = "json"
	// FormatText produces the human-readable report.
	FormatText ReportFormat = "text"
)

// Report file names inside a run's output directory.
const (
	TextReportName = "report.txt"
	JSONReportName = "report.json"
)

// Format renders a run result in the given format.
func Format(res *Result, format ReportFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(res)
	case FormatText:
		return formatText(res), nil
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}
}

// WriteReports writes report.txt and report.json into the run's output
// directory.
func WriteReports(res *Result) error {
	if err := os.MkdirAll(res.OutputDir, 0o755); err != nil {
		return fmt.Errorf("unable to create report directory: %w", err)
	}

	for _, report := range []struct {
		format ReportFormat
		name   string
	}{
		{FormatText, TextReportName},
		{FormatJSON, JSONReportName},
	} {
		content, err := Format(res, report.format)
		if err != nil {
			return err
		}
		path := filepath.Join(res.OutputDir, report.name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("unable to write %s: %w", report.name, err)
		}
	}
	return nil
}

func formatJSON(res *Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("unable to marshal report: %w", err)
	}
	return string(data) + "\n", nil
}

func formatText(res *Result) string {
	var sb strings.Builder

	banner := strings.Repeat("=", 80)
	sb.WriteString(banner + "\n")
	sb.WriteString("VITRINE TEST REPORT\n")
	sb.WriteString(banner + "\n\n")

	sb.WriteString(fmt.Sprintf("Test:     %s\n", res.Test))
	sb.WriteString(fmt.Sprintf("VM:       %s\n", res.VM))
	sb.WriteString(fmt.Sprintf("Run:      %s\n", res.RunID))
	sb.WriteString(fmt.Sprintf("Started:  %s\n", res.StartedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Duration: %.2fs\n", res.DurationSeconds))
	if res.Distro != "" {
		sb.WriteString(fmt.Sprintf("Distro:   %s\n", res.Distro))
	}
	if res.UpdateReferences {
		sb.WriteString("Mode:     update references\n")
	}

	if len(res.Install) > 0 {
		sb.WriteString("\n")
		writeSection(&sb, "INSTALL")
		for _, in := range res.Install {
			sb.WriteString(fmt.Sprintf("%s %s\n", statusSymbol(in.Status), in.Command))
			if in.Reason != "" {
				sb.WriteString(fmt.Sprintf("    %s\n", in.Reason))
			}
		}
	}

	scenario := ""
	for _, step := range res.Steps {
		if step.Scenario != scenario {
			scenario = step.Scenario
			sb.WriteString("\n")
			writeSection(&sb, "SCENARIO: "+scenario)
		}
		sb.WriteString(fmt.Sprintf("%s [%s] %s%s\n", statusSymbol(step.Status), step.Type, step.Name, stepDetail(step)))
		if step.Reason != "" {
			sb.WriteString(fmt.Sprintf("    %s\n", step.Reason))
		}
		if step.DiffPath != "" {
			sb.WriteString(fmt.Sprintf("    diff: %s\n", step.DiffPath))
		}
	}

	sb.WriteString("\n" + banner + "\n")
	sb.WriteString(fmt.Sprintf("VERDICT: %s (%s)\n", strings.ToUpper(res.Verdict), totalsLine(res.Totals)))
	sb.WriteString(banner + "\n")
	return sb.String()
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", len(title)) + "\n")
}

func statusSymbol(status string) string {
	switch status {
	case StatusFailed:
		return "✗"
	case StatusSkipped:
		return "-"
	default:
		return "✓"
	}
}

func stepDetail(step StepResult) string {
	switch step.Status {
	case StatusUpdated:
		return " (reference updated)"
	case StatusCaptured:
		return " (captured)"
	case StatusPassed:
		if step.Type == manifest.StepScreenshot {
			return fmt.Sprintf(" (similarity %.4f)", step.Score)
		}
	}
	return ""
}

func totalsLine(t Totals) string {
	parts := []string{
		fmt.Sprintf("%d passed", t.Passed),
		fmt.Sprintf("%d failed", t.Failed),
		fmt.Sprintf("%d skipped", t.Skipped),
	}
	if t.Updated > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", t.Updated))
	}
	if t.Captured > 0 {
		parts = append(parts, fmt.Sprintf("%d captured", t.Captured))
	}
	parts = append(parts, fmt.Sprintf("%d assertions", t.Assertions))
	return strings.Join(parts, ", ")
}
