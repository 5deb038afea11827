package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatJSON)

	data := map[string]any{"principal_id": "svc-api", "spent_usd": 1.25}
	if err := f.FormatTo(&buf, data); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"principal_id": "svc-api"`) {
		t.Errorf("output = %q", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &CSVFormatter{Headers: []string{"principal_id", "spent_usd"}}

	rows := [][]string{
		{"svc-api", "1.25"},
		{"svc-batch", "0.40"},
	}
	if err := f.FormatTo(&buf, rows); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if lines[0] != "principal_id,spent_usd" {
		t.Errorf("header = %q", lines[0])
	}
}

func TestCSVFormatter_RejectsNonRows(t *testing.T) {
	f := &CSVFormatter{}
	if err := f.FormatTo(&bytes.Buffer{}, 42); err == nil {
		t.Error("expected error for non-row data")
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatText)
	if err := f.FormatTo(&buf, "3 principals suspended"); err != nil {
		t.Fatalf("FormatTo failed: %v", err)
	}
	if buf.String() != "3 principals suspended\n" {
		t.Errorf("output = %q", buf.String())
	}
}
