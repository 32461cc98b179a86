// Package export renders performance history into shareable artifacts.
package export

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~sbinet/gg"
	"github.com/ajstarks/svgo"
	json "github.com/goccy/go-json"
	"golang.org/x/image/font/basicfont"

	"github.com/vanderheijden86/threadwork/pkg/metrics"
)

// maxChartColumns caps how many windows a single chart renders. With the
// default five minute cadence this is four hours of history.
const maxChartColumns = 48

// ChartOptions controls performance chart export behaviour.
type ChartOptions struct {
	Path    string                 // Output path; format inferred from extension when Format empty
	Format  string                 // "svg" or "png" (case-insensitive). If empty, inferred from Path.
	Title   string                 // Optional title rendered in the header block
	Windows []metrics.WindowReport // Flush history, oldest first

	// JSONSidecar additionally writes the charted windows as JSON next to
	// the image (same name, .json extension), so the numbers behind the
	// bars stay machine-readable.
	JSONSidecar bool
}

// SaveChart renders the flush history as a bar chart (SVG or PNG). Each
// column is one reporting window: average DB and task durations as bars,
// UI freeze counts as badges along the top.
func SaveChart(opts ChartOptions) error {
	if len(opts.Windows) == 0 {
		return fmt.Errorf("no metric windows to chart")
	}

	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".svg":
			format = "svg"
		case ".png":
			format = "png"
		default:
			format = "svg" // safe default
			if opts.Path != "" && filepath.Ext(opts.Path) == "" {
				opts.Path = opts.Path + ".svg"
			}
		}
	}
	if format != "svg" && format != "png" {
		return fmt.Errorf("unsupported format %q (want svg or png)", format)
	}
	if opts.Path == "" {
		return fmt.Errorf("output path is required")
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	layout := buildChartLayout(opts)

	var renderErr error
	switch format {
	case "svg":
		renderErr = renderChartSVG(opts.Path, layout)
	case "png":
		renderErr = renderChartPNG(opts.Path, layout)
	default:
		renderErr = fmt.Errorf("unhandled format %q", format)
	}
	if renderErr != nil {
		return renderErr
	}

	if opts.JSONSidecar {
		return writeJSONSidecar(opts.Path, chartWindows(opts.Windows))
	}
	return nil
}

// SidecarPath returns where SaveChart puts the JSON snapshot for a chart.
func SidecarPath(chartPath string) string {
	return strings.TrimSuffix(chartPath, filepath.Ext(chartPath)) + ".json"
}

func writeJSONSidecar(chartPath string, windows []metrics.WindowReport) error {
	b, err := json.MarshalIndent(windows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	b = append(b, '\n')
	if err := os.WriteFile(SidecarPath(chartPath), b, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// --- layout computation ----------------------------------------------------

type chartColumn struct {
	X       float64 // left edge of the column group
	Label   string  // window end, HH:MM
	DBMs    float64
	TaskMs  float64
	DBH     float64 // scaled bar heights
	TaskH   float64
	Freezes int64
}

type chartLayout struct {
	Columns  []chartColumn
	Width    int
	Height   int
	Header   float64
	PlotX    float64
	PlotY    float64
	PlotW    float64
	PlotH    float64
	ScaleMax float64 // milliseconds at full plot height
	Summary  chartSummary
}

type chartSummary struct {
	Title       string
	Windows     int
	Freezes     int64
	WorstFreeze float64 // ms; 0 means none recorded
	Span        string
}

func buildChartLayout(opts ChartOptions) chartLayout {
	const (
		padding      = 36.0
		headerHeight = 120.0
		plotHeight   = 320.0
		axisGutter   = 56.0
		barWidth     = 18.0
		barGap       = 4.0
		groupGap     = 22.0
		labelRow     = 28.0
	)

	windows := chartWindows(opts.Windows)

	// Scale from the largest average either bar will show.
	peak := 0.0
	for _, w := range windows {
		peak = math.Max(peak, math.Max(w.DBOps.AvgMs, w.Tasks.AvgMs))
	}
	scaleMax := niceCeil(peak)

	groupW := barWidth*2 + barGap
	plotX := padding + axisGutter
	plotY := padding + headerHeight
	plotW := float64(len(windows))*(groupW+groupGap) + groupGap

	var (
		columns     []chartColumn
		freezes     int64
		worstFreeze float64
	)
	for i, w := range windows {
		col := chartColumn{
			X:       plotX + groupGap + float64(i)*(groupW+groupGap),
			Label:   w.End.Format("15:04"),
			DBMs:    w.DBOps.AvgMs,
			TaskMs:  w.Tasks.AvgMs,
			DBH:     plotHeight * (w.DBOps.AvgMs / scaleMax),
			TaskH:   plotHeight * (w.Tasks.AvgMs / scaleMax),
			Freezes: w.UIFreezes.Count,
		}
		columns = append(columns, col)
		freezes += w.UIFreezes.Count
		worstFreeze = math.Max(worstFreeze, w.UIFreezes.MaxMs)
	}

	width := int(plotX + plotW + padding)
	if width < 640 {
		width = 640
	}
	height := int(plotY + plotHeight + labelRow + padding)

	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = "Performance History"
	}
	span := fmt.Sprintf("%s to %s",
		windows[0].Start.Format("2006-01-02 15:04"),
		windows[len(windows)-1].End.Format("2006-01-02 15:04"))

	return chartLayout{
		Columns:  columns,
		Width:    width,
		Height:   height,
		Header:   headerHeight,
		PlotX:    plotX,
		PlotY:    plotY,
		PlotW:    plotW,
		PlotH:    plotHeight,
		ScaleMax: scaleMax,
		Summary: chartSummary{
			Title:       title,
			Windows:     len(windows),
			Freezes:     freezes,
			WorstFreeze: worstFreeze,
			Span:        span,
		},
	}
}

// chartWindows caps the input at the newest maxChartColumns windows.
func chartWindows(ws []metrics.WindowReport) []metrics.WindowReport {
	if len(ws) > maxChartColumns {
		return ws[len(ws)-maxChartColumns:]
	}
	return ws
}

// niceCeil rounds up to a 1/2/5 multiple of a power of ten so the axis
// lands on readable values.
func niceCeil(v float64) float64 {
	if v <= 0 {
		return 1
	}
	base := math.Pow(10, math.Floor(math.Log10(v)))
	switch {
	case v <= base:
		return base
	case v <= 2*base:
		return 2 * base
	case v <= 5*base:
		return 5 * base
	default:
		return 10 * base
	}
}

func axisLabel(ms float64) string {
	if ms < 10 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.0fms", ms)
}

func worstFreezeLabel(ms float64) string {
	if ms <= 0 {
		return "worst freeze: none"
	}
	return fmt.Sprintf("worst freeze: %.1fms", ms)
}

// --- rendering -------------------------------------------------------------

var (
	colorBackdrop = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorHeaderBG = color.RGBA{0xf3, 0xf4, 0xf6, 0xff}
	colorLegendBG = color.RGBA{0xee, 0xee, 0xee, 0xff}
	colorStroke   = color.RGBA{0x22, 0x22, 0x22, 0xff}
	colorText     = color.RGBA{0x11, 0x11, 0x11, 0xff}
	colorSubtle   = color.RGBA{0x66, 0x66, 0x66, 0xff}
	colorGrid     = color.RGBA{0xd7, 0xda, 0xe0, 0xff}
	colorDBBar    = color.RGBA{0x64, 0xb5, 0xf6, 0xff}
	colorTaskBar  = color.RGBA{0x81, 0xc7, 0x84, 0xff}
	colorFreeze   = color.RGBA{0xe5, 0x73, 0x73, 0xff}
)

// gridFractions are the horizontal rule positions, bottom to top.
var gridFractions = []float64{0, 0.25, 0.5, 0.75, 1}

func renderChartSVG(path string, layout chartLayout) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return renderChartSVGToWriter(file, layout)
}

func renderChartSVGToWriter(w io.Writer, layout chartLayout) error {
	canvas := svg.New(w)
	canvas.Start(layout.Width, layout.Height)
	canvas.Rect(0, 0, layout.Width, layout.Height, fmt.Sprintf("fill:%s", css(colorBackdrop)))
	canvas.Roundrect(16, 16, layout.Width-32, int(layout.Header-24), 10, 10, fmt.Sprintf("fill:%s", css(colorHeaderBG)))

	drawChartSummarySVG(canvas, layout)
	drawChartLegendSVG(canvas, layout)

	bottom := layout.PlotY + layout.PlotH

	// gridlines and axis labels
	for _, f := range gridFractions {
		y := int(bottom - layout.PlotH*f)
		canvas.Line(int(layout.PlotX), y, int(layout.PlotX+layout.PlotW), y,
			fmt.Sprintf("stroke:%s;stroke-width:1", css(colorGrid)))
		canvas.Text(int(layout.PlotX)-8, y+4, axisLabel(layout.ScaleMax*f),
			fmt.Sprintf("fill:%s;font-size:11px;font-family:monospace;text-anchor:end", css(colorSubtle)))
	}

	for _, col := range layout.Columns {
		x := int(col.X)
		if col.DBH > 0 {
			canvas.Rect(x, int(bottom-col.DBH), 18, int(col.DBH),
				fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(colorDBBar), css(colorStroke)))
		}
		if col.TaskH > 0 {
			canvas.Rect(x+22, int(bottom-col.TaskH), 18, int(col.TaskH),
				fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(colorTaskBar), css(colorStroke)))
		}
		if col.Freezes > 0 {
			cx := x + 20
			cy := int(layout.PlotY) + 14
			canvas.Circle(cx, cy, 9, fmt.Sprintf("fill:%s", css(colorFreeze)))
			canvas.Text(cx, cy+4, fmt.Sprintf("%d", col.Freezes),
				"fill:#ffffff;font-size:11px;font-family:monospace;text-anchor:middle")
		}
		canvas.Text(x+20, int(bottom)+18, col.Label,
			fmt.Sprintf("fill:%s;font-size:11px;font-family:monospace;text-anchor:middle", css(colorSubtle)))
	}

	canvas.End()
	return nil
}

func renderChartPNG(path string, layout chartLayout) error {
	dc := gg.NewContext(layout.Width, layout.Height)
	dc.SetColor(colorBackdrop)
	dc.Clear()

	dc.SetColor(colorHeaderBG)
	dc.DrawRoundedRectangle(16, 16, float64(layout.Width)-32, layout.Header-24, 10)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)

	drawChartSummary(dc, layout)
	drawChartLegend(dc, layout)

	bottom := layout.PlotY + layout.PlotH

	dc.SetLineWidth(1)
	for _, f := range gridFractions {
		y := bottom - layout.PlotH*f
		dc.SetColor(colorGrid)
		dc.DrawLine(layout.PlotX, y, layout.PlotX+layout.PlotW, y)
		dc.Stroke()
		dc.SetColor(colorSubtle)
		dc.DrawStringAnchored(axisLabel(layout.ScaleMax*f), layout.PlotX-8, y, 1, 0.5)
	}

	for _, col := range layout.Columns {
		if col.DBH > 0 {
			drawBar(dc, col.X, bottom-col.DBH, 18, col.DBH, colorDBBar)
		}
		if col.TaskH > 0 {
			drawBar(dc, col.X+22, bottom-col.TaskH, 18, col.TaskH, colorTaskBar)
		}
		if col.Freezes > 0 {
			cx := col.X + 20
			cy := layout.PlotY + 14
			dc.SetColor(colorFreeze)
			dc.DrawCircle(cx, cy, 9)
			dc.Fill()
			dc.SetColor(color.White)
			dc.DrawStringAnchored(fmt.Sprintf("%d", col.Freezes), cx, cy, 0.5, 0.5)
		}
		dc.SetColor(colorSubtle)
		dc.DrawStringAnchored(col.Label, col.X+20, bottom+16, 0.5, 0.5)
	}

	return dc.SavePNG(path)
}

func drawBar(dc *gg.Context, x, y, w, h float64, fill color.RGBA) {
	dc.SetColor(fill)
	dc.DrawRectangle(x, y, w, h)
	dc.Fill()
	dc.SetColor(colorStroke)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()
}

func drawChartSummary(dc *gg.Context, layout chartLayout) {
	dc.SetColor(colorText)
	dc.DrawStringAnchored(layout.Summary.Title, 32, 44, 0, 0.5)
	dc.SetColor(colorSubtle)
	dc.DrawStringAnchored(fmt.Sprintf("windows: %d  freezes: %d", layout.Summary.Windows, layout.Summary.Freezes), 32, 64, 0, 0.5)
	dc.DrawStringAnchored(worstFreezeLabel(layout.Summary.WorstFreeze), 32, 84, 0, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("span: %s", layout.Summary.Span), 32, 104, 0, 0.5)
}

func drawChartLegend(dc *gg.Context, layout chartLayout) {
	boxW := 190.0
	boxH := 78.0
	x := float64(layout.Width) - boxW - 20
	y := 24.0
	dc.SetColor(colorLegendBG)
	dc.DrawRoundedRectangle(x, y, boxW, boxH, 10)
	dc.Fill()
	dc.SetColor(colorStroke)
	dc.DrawRoundedRectangle(x, y, boxW, boxH, 10)
	dc.Stroke()

	dc.SetColor(colorText)
	dc.DrawStringAnchored("Legend", x+12, y+16, 0, 0.5)
	drawChartLegendRow(dc, x+12, y+34, colorDBBar, "DB avg per window")
	drawChartLegendRow(dc, x+12, y+50, colorTaskBar, "Task avg per window")
	drawChartLegendRow(dc, x+12, y+66, colorFreeze, "UI freezes")
}

func drawChartLegendRow(dc *gg.Context, x, y float64, c color.RGBA, label string) {
	dc.SetColor(c)
	dc.DrawRoundedRectangle(x, y-8, 14, 14, 3)
	dc.Fill()
	dc.SetColor(colorStroke)
	dc.DrawRoundedRectangle(x, y-8, 14, 14, 3)
	dc.Stroke()
	dc.SetColor(colorSubtle)
	dc.DrawStringAnchored(label, x+20, y, 0, 0.5)
}

func drawChartSummarySVG(canvas *svg.SVG, layout chartLayout) {
	canvas.Text(32, 44, layout.Summary.Title, fmt.Sprintf("fill:%s;font-size:16px;font-family:monospace;font-weight:bold", css(colorText)))
	canvas.Text(32, 64, fmt.Sprintf("windows: %d  freezes: %d", layout.Summary.Windows, layout.Summary.Freezes),
		fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace", css(colorSubtle)))
	canvas.Text(32, 84, worstFreezeLabel(layout.Summary.WorstFreeze),
		fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace", css(colorSubtle)))
	canvas.Text(32, 104, fmt.Sprintf("span: %s", layout.Summary.Span),
		fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace", css(colorSubtle)))
}

func drawChartLegendSVG(canvas *svg.SVG, layout chartLayout) {
	boxW := 190
	boxH := 78
	x := layout.Width - boxW - 20
	y := 24
	canvas.Roundrect(x, y, boxW, boxH, 10, 10, fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(colorLegendBG), css(colorStroke)))
	canvas.Text(x+12, y+20, "Legend", fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace;font-weight:bold", css(colorText)))
	drawChartLegendRowSVG(canvas, x+12, y+38, colorDBBar, "DB avg per window")
	drawChartLegendRowSVG(canvas, x+12, y+54, colorTaskBar, "Task avg per window")
	drawChartLegendRowSVG(canvas, x+12, y+70, colorFreeze, "UI freezes")
}

func drawChartLegendRowSVG(canvas *svg.SVG, x, y int, c color.RGBA, label string) {
	canvas.Roundrect(x, y-8, 14, 14, 3, 3, fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(c), css(colorStroke)))
	canvas.Text(x+20, y, label, fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorSubtle)))
}

// --- helpers ---------------------------------------------------------------

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
