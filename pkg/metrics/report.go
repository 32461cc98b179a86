package metrics

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	reportHeaderPrefix = "=== Performance Report: "
	reportHeaderSuffix = " ==="
	reportTimeLayout   = "2006-01-02 15:04:05"
)

// ReportFileName returns the per-day report file name for t, for example
// "performance_20260821.log".
func ReportFileName(t time.Time) string {
	return "performance_" + t.Format("20060102") + ".log"
}

// FormatReport renders a window as the fixed human-readable block that
// gets appended to the report file. The block ends with a blank line so
// consecutive windows stay separated.
func FormatReport(r WindowReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s%s\n", reportHeaderPrefix, r.End.Format(reportTimeLayout), reportHeaderSuffix)
	fmt.Fprintf(&b, "UI freezes: %d\n", r.UIFreezes.Count)
	fmt.Fprintf(&b, "Longest UI freeze: %.1fms\n", r.UIFreezes.MaxMs)
	fmt.Fprintf(&b, "Database operations: %d\n", r.DBOps.Count)
	fmt.Fprintf(&b, "Average DB operation time: %.1fms\n", r.DBOps.AvgMs)
	fmt.Fprintf(&b, "Longest DB operation: %.1fms\n", r.DBOps.MaxMs)
	fmt.Fprintf(&b, "Background tasks: %d\n", r.Tasks.Count)
	fmt.Fprintf(&b, "Average background task time: %.1fms\n", r.Tasks.AvgMs)
	b.WriteString("\n")
	return b.String()
}

// appendReport writes the formatted block to the day's report file in
// dir, creating the directory and file as needed.
func appendReport(dir string, r WindowReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, ReportFileName(r.End))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatReport(r)); err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}

// ParseReportFile reads the blocks previously appended to a report file
// back into window reports, oldest first. Only the fields present in the
// text format are recovered; percentiles and window start times are not
// part of it and stay zero. Unrecognized lines are skipped so files with
// stray content still parse.
func ParseReportFile(path string) ([]WindowReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	defer f.Close()

	var (
		reports []WindowReport
		cur     *WindowReport
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if rest, ok := strings.CutPrefix(line, reportHeaderPrefix); ok {
			stamp := strings.TrimSuffix(rest, reportHeaderSuffix)
			end, err := time.ParseInLocation(reportTimeLayout, stamp, time.Local)
			if err != nil {
				cur = nil
				continue
			}
			reports = append(reports, WindowReport{End: end})
			cur = &reports[len(reports)-1]
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case parseCount(line, "UI freezes: ", &cur.UIFreezes.Count):
		case parseMillis(line, "Longest UI freeze: ", &cur.UIFreezes.MaxMs):
		case parseCount(line, "Database operations: ", &cur.DBOps.Count):
		case parseMillis(line, "Average DB operation time: ", &cur.DBOps.AvgMs):
		case parseMillis(line, "Longest DB operation: ", &cur.DBOps.MaxMs):
		case parseCount(line, "Background tasks: ", &cur.Tasks.Count):
		case parseMillis(line, "Average background task time: ", &cur.Tasks.AvgMs):
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report file: %w", err)
	}
	return reports, nil
}

func parseCount(line, prefix string, dst *int64) bool {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return false
	}
	*dst = n
	return true
}

func parseMillis(line, prefix string, dst *float64) bool {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(rest), "ms"), 64)
	if err != nil {
		return false
	}
	*dst = v
	return true
}
