package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/vanderheijden86/threadwork/internal/datasource"
)

func TestFormatTimeRel(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "unknown"},
		{now.Add(30 * time.Second), "now"},
		{now.Add(-20 * time.Second), "now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
		{now.Add(-10 * 24 * time.Hour), "1w ago"},
		{now.Add(-100 * 24 * time.Hour), "3mo ago"},
	}
	for _, tt := range tests {
		if got := formatTimeRel(now, tt.t); got != tt.want {
			t.Errorf("formatTimeRel(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"a longer string", 10, "a longer …"},
		{"héllo wörld", 8, "héllo w…"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestTruncateWideRunes(t *testing.T) {
	got := truncateRunesHelper("日本語テキスト", 7, "…")
	if w := runewidth.StringWidth(got); w > 7 {
		t.Errorf("width %d exceeds 7 for %q", w, got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("missing suffix: %q", got)
	}
}

func TestPadRight(t *testing.T) {
	if got := padRight("ab", 5); got != "ab   " {
		t.Errorf("padRight = %q", got)
	}
	if got := padRight("abcdef", 3); got != "abcdef" {
		t.Errorf("padRight should not shorten, got %q", got)
	}
	if got := padRight("héé", 5); got != "héé  " {
		t.Errorf("padRight miscounted runes: %q", got)
	}
}

func TestFormatMillis(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "-"},
		{-3, "-"},
		{0.4, "0.4ms"},
		{42, "42.0ms"},
		{999.94, "999.9ms"},
		{1000, "1.00s"},
		{1500, "1.50s"},
	}
	for _, tt := range tests {
		if got := formatMillis(tt.ms); got != tt.want {
			t.Errorf("formatMillis(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestFormatJobDuration(t *testing.T) {
	if got := formatJobDuration(0); got != "-" {
		t.Errorf("formatJobDuration(0) = %q, want -", got)
	}
	if got := formatJobDuration(250); got != "250.0ms" {
		t.Errorf("formatJobDuration(250) = %q", got)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status datasource.JobStatus
		want   string
	}{
		{datasource.JobPending, "○"},
		{datasource.JobRunning, "◔"},
		{datasource.JobSucceeded, "●"},
		{datasource.JobFailed, "✗"},
		{datasource.JobArchived, "▪"},
		{datasource.JobStatus("weird"), "·"},
	}
	for _, tt := range tests {
		if got := statusIcon(tt.status); got != tt.want {
			t.Errorf("statusIcon(%s) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
