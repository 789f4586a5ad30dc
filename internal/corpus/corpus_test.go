package corpus

import (
	"strings"
	"testing"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

func TestReadJSONL(t *testing.T) {
	input := `{"id": "d1", "contents": "Laptops are portable.", "chatNoirUrl": "https://example.org/1"}

{"id": "d2", "contents": "Desktops are faster."}
`
	c, err := ReadJSONL(strings.NewReader(input), "corpus.jsonl", nil)
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	p, ok := c.Get("d1")
	if !ok {
		t.Fatal("d1 not found")
	}
	if p.Offset != 0 || p.URL != "https://example.org/1" {
		t.Errorf("d1 = %+v", p)
	}

	p2, _ := c.Get("d2")
	firstLine := strings.Index(input, "\n") + 1
	wantOffset := int64(firstLine + 1) // plus the blank line
	if p2.Offset != wantOffset {
		t.Errorf("d2 offset = %d, want %d", p2.Offset, wantOffset)
	}
	if p2.Text != "Desktops are faster." {
		t.Errorf("d2 text = %q", p2.Text)
	}
}

func TestReadJSONL_Filter(t *testing.T) {
	input := "{\"id\":\"a\",\"contents\":\"x\"}\n{\"id\":\"b\",\"contents\":\"y\"}"
	keep := func(id string) bool { return id == "b" }

	c, err := ReadJSONL(strings.NewReader(input), "corpus.jsonl", keep)
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("a should have been filtered out")
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  string
	}{
		{"bad json", "{\"id\":\"a\"}\n{broken\n", "2"},
		{"missing id", "{\"contents\":\"x\"}\n", "1"},
		{"duplicate", "{\"id\":\"a\"}\n{\"id\":\"a\"}\n", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.input), "c.jsonl", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			appErr, ok := err.(*apperrors.AppError)
			if !ok || appErr.Code != apperrors.CodeParse {
				t.Fatalf("expected parse error, got %v", err)
			}
			if appErr.Details["line"] != tt.line {
				t.Errorf("line = %s, want %s", appErr.Details["line"], tt.line)
			}
		})
	}
}
