package components

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
	}{
		{"words", "Heat the precursor mixture at 800 C for ten hours", 12},
		{"long token", "/home/user/.local/share/sky/assets/embedding", 10},
		{"manual breaks", "line one\n\nline two is a bit longer", 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.text, tt.width)
			for _, line := range strings.Split(got, "\n") {
				if len([]rune(line)) > tt.width {
					t.Errorf("line %q longer than %d", line, tt.width)
				}
			}
			if strings.Count(got, "\n") < strings.Count(tt.text, "\n") {
				t.Errorf("manual line breaks lost: %q", got)
			}
		})
	}

	if got := Wrap("unchanged", 0); got != "unchanged" {
		t.Errorf("expected passthrough for width 0, got %q", got)
	}
}

func TestContentWidthClamps(t *testing.T) {
	tests := []struct {
		termWidth int
		expected  int
	}{
		{20, 40},
		{84, 80},
		{300, 100},
	}

	for _, tt := range tests {
		m, _ := NewLayout(LayoutConfig{}).Update(tea.WindowSizeMsg{Width: tt.termWidth, Height: 30})
		if got := m.ContentWidth(); got != tt.expected {
			t.Errorf("width %d: expected content width %d, got %d", tt.termWidth, tt.expected, got)
		}
	}

	m, _ := NewLayout(LayoutConfig{}).Update(tea.WindowSizeMsg{Width: 300, Height: 30})
	if got := m.InputWidth(); got != 80 {
		t.Errorf("expected input width capped at 80, got %d", got)
	}
}

func TestRenderSections(t *testing.T) {
	m := NewLayout(LayoutConfig{Title: "Assets Directory", HelpText: "enter: continue"})
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	m = m.SetSubtitle("Where the embedding files live").SetError(errors.New("path must be absolute"))

	view := m.Render("content body")
	for _, want := range []string{"Assets Directory", "Where the embedding files live", "content body", "Error: path must be absolute", "enter: continue"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected %q in view:\n%s", want, view)
		}
	}

	if m.SetError(nil).GetError() == nil {
		t.Error("SetError(nil) must keep the existing error")
	}
	if m.ClearError().GetError() != nil {
		t.Error("ClearError should remove the error")
	}
}
