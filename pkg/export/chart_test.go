package export

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/threadwork/pkg/metrics"
)

func makeWindow(end time.Time, freezes int64, worstMs, dbAvg, taskAvg float64) metrics.WindowReport {
	w := metrics.WindowReport{
		Start:  end.Add(-5 * time.Minute),
		End:    end,
		Reason: "interval",
		DBOps:  metrics.KindStats{Count: 10, AvgMs: dbAvg, MaxMs: dbAvg * 2},
		Tasks:  metrics.KindStats{Count: 4, AvgMs: taskAvg, MaxMs: taskAvg * 2},
	}
	if freezes > 0 {
		w.UIFreezes = metrics.KindStats{Count: freezes, AvgMs: worstMs, MaxMs: worstMs}
	}
	return w
}

func testWindows() []metrics.WindowReport {
	return []metrics.WindowReport{
		makeWindow(time.Date(2025, 6, 1, 15, 4, 0, 0, time.UTC), 0, 0, 42.5, 10),
		makeWindow(time.Date(2025, 6, 1, 15, 9, 0, 0, time.UTC), 3, 750.5, 123.4, 20),
	}
}

func TestSaveChart_SVGAndPNG(t *testing.T) {
	tmp := t.TempDir()
	cases := []struct {
		name string
		file string
	}{
		{"svg", "chart.svg"},
		{"png", "chart.png"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := filepath.Join(tmp, tc.file)
			err := SaveChart(ChartOptions{
				Path:    out,
				Windows: testWindows(),
			})
			if err != nil {
				t.Fatalf("SaveChart error: %v", err)
			}
			info, err := os.Stat(out)
			if err != nil {
				t.Fatalf("output not created: %v", err)
			}
			if info.Size() == 0 {
				t.Fatalf("output file is empty")
			}
		})
	}
}

func TestSaveChart_NoWindows(t *testing.T) {
	err := SaveChart(ChartOptions{Path: "chart.svg"})
	if err == nil {
		t.Fatalf("expected error for empty window history")
	}
}

func TestSaveChart_InvalidFormat(t *testing.T) {
	err := SaveChart(ChartOptions{
		Path:    "chart.txt",
		Format:  "txt",
		Windows: testWindows(),
	})
	if err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestSaveChart_EmptyPath(t *testing.T) {
	err := SaveChart(ChartOptions{Windows: testWindows()})
	if err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSaveChart_AppendsExtension(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chart_noext")
	err := SaveChart(ChartOptions{
		Path:    out,
		Windows: testWindows(),
	})
	if err != nil {
		t.Fatalf("SaveChart error: %v", err)
	}
	if _, err := os.Stat(out + ".svg"); err != nil {
		t.Fatalf("expected .svg appended to extensionless path: %v", err)
	}
}

func TestChartSVG_Content(t *testing.T) {
	out := filepath.Join(t.TempDir(), "content.svg")
	err := SaveChart(ChartOptions{
		Path:    out,
		Title:   "Session Performance",
		Windows: testWindows(),
	})
	if err != nil {
		t.Fatalf("SaveChart error: %v", err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	svgStr := string(content)

	for _, want := range []string{
		"<svg",
		"</svg>",
		"Session Performance",
		"windows: 2  freezes: 3",
		"worst freeze: 750.5ms",
		"span: 2025-06-01 14:59 to 2025-06-01 15:09",
		"15:04", // first window label
		">3<",   // freeze badge
		"200ms", // axis ceiling for a 123.4ms peak
		"DB avg per window",
	} {
		if !strings.Contains(svgStr, want) {
			t.Errorf("SVG missing %q", want)
		}
	}
}

func TestChartSVG_ValidXML(t *testing.T) {
	out := filepath.Join(t.TempDir(), "valid.svg")
	err := SaveChart(ChartOptions{
		Path:    out,
		Windows: testWindows(),
	})
	if err != nil {
		t.Fatalf("SaveChart error: %v", err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var doc interface{}
	if err := xml.Unmarshal(content, &doc); err != nil {
		t.Errorf("SVG is not valid XML: %v", err)
	}
}

func TestChartPNG_Signature(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sig.png")
	err := SaveChart(ChartOptions{
		Path:    out,
		Format:  "png",
		Windows: testWindows(),
	})
	if err != nil {
		t.Fatalf("SaveChart error: %v", err)
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(content, []byte("\x89PNG")) {
		t.Error("output does not start with the PNG signature")
	}
}

func TestSaveChart_JSONSidecar(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chart.svg")
	err := SaveChart(ChartOptions{
		Path:        out,
		Windows:     testWindows(),
		JSONSidecar: true,
	})
	if err != nil {
		t.Fatalf("SaveChart error: %v", err)
	}

	raw, err := os.ReadFile(SidecarPath(out))
	if err != nil {
		t.Fatalf("sidecar not created: %v", err)
	}
	var decoded []metrics.WindowReport
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("sidecar is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("sidecar has %d windows, want 2", len(decoded))
	}
	if decoded[1].UIFreezes.Count != 3 {
		t.Errorf("sidecar freeze count = %d, want 3", decoded[1].UIFreezes.Count)
	}
	if decoded[0].DBOps.AvgMs != 42.5 {
		t.Errorf("sidecar db avg = %v, want 42.5", decoded[0].DBOps.AvgMs)
	}
}

func TestSaveChart_NoSidecarByDefault(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chart.svg")
	if err := SaveChart(ChartOptions{Path: out, Windows: testWindows()}); err != nil {
		t.Fatalf("SaveChart error: %v", err)
	}
	if _, err := os.Stat(SidecarPath(out)); !os.IsNotExist(err) {
		t.Fatalf("unexpected sidecar present (stat err %v)", err)
	}
}

func TestSidecarPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"perf.svg", "perf.json"},
		{"/tmp/out/perf_chart.png", "/tmp/out/perf_chart.json"},
		{"noext", "noext.json"},
	}
	for _, tc := range cases {
		if got := SidecarPath(tc.in); got != tc.want {
			t.Errorf("SidecarPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestChartLayout_CapsColumns(t *testing.T) {
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var windows []metrics.WindowReport
	for i := 0; i < 60; i++ {
		windows = append(windows, makeWindow(end.Add(time.Duration(i)*5*time.Minute), 0, 0, 50, 25))
	}

	layout := buildChartLayout(ChartOptions{Windows: windows})
	if len(layout.Columns) != maxChartColumns {
		t.Errorf("Expected %d columns, got %d", maxChartColumns, len(layout.Columns))
	}
	if layout.Summary.Windows != maxChartColumns {
		t.Errorf("Expected summary over %d windows, got %d", maxChartColumns, layout.Summary.Windows)
	}
}

func TestNiceCeil(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 1},
		{0.4, 0.5},
		{1, 1},
		{7, 10},
		{12, 20},
		{50, 50},
		{123.4, 200},
		{600, 1000},
	}
	for _, tc := range cases {
		if got := niceCeil(tc.in); got != tc.want {
			t.Errorf("niceCeil(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
