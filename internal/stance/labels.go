package stance

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// ReadLabels parses stance label lines of the form "qid label docid".
func ReadLabels(r io.Reader, source string) ([]Labeled, error) {
	var out []Labeled
	seen := make(map[[2]string]struct{})

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("expected 3 fields, got %d", len(fields)))
		}
		label, err := ParseLabel(fields[1])
		if err != nil {
			return nil, apperrors.ParseError(source, lineNo, err.Error())
		}

		key := [2]string{fields[0], fields[2]}
		if _, dup := seen[key]; dup {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("duplicate label for query %s, document %s", key[0], key[1]))
		}
		seen[key] = struct{}{}

		out = append(out, Labeled{QueryID: fields[0], DocID: fields[2], Label: label})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading labels %s: %w", source, err)
	}
	return out, nil
}

// LoadLabels reads the label file at path.
func LoadLabels(path string) ([]Labeled, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening labels: %w", err)
	}
	defer f.Close()

	return ReadLabels(f, path)
}

// WriteLabels writes labels in the format ReadLabels accepts, ordered by query then document.
func WriteLabels(w io.Writer, labels []Labeled) error {
	sorted := append([]Labeled(nil), labels...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].QueryID != sorted[j].QueryID {
			return sorted[i].QueryID < sorted[j].QueryID
		}
		return sorted[i].DocID < sorted[j].DocID
	})

	bw := bufio.NewWriter(w)
	for _, l := range sorted {
		if _, err := fmt.Fprintf(bw, "%s %s %s\n", l.QueryID, l.Label, l.DocID); err != nil {
			return err
		}
	}
	return bw.Flush()
}
