package run

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// ReadOptions controls how a TREC run file is interpreted.
type ReadOptions struct {
	// Method names the retriever. When empty the run tag of the file is used,
	// and all lines must then share one tag.
	Method string

	// Depth keeps at most this many candidates per query after ordering. 0 keeps all.
	Depth int
}

// ReadTREC parses the six column TREC run format:
//
//	qid Q0 docid rank score tag
//
// Lines are whitespace separated; blank lines and lines starting with '#' are skipped.
// The second column must be the literal Q0.
// The rank column is checked for syntax only, the final order comes from the scores.
func ReadTREC(r io.Reader, source string, opts ReadOptions) (*Run, error) {
	method := opts.Method
	results := make(map[string][]CandidateResult)
	seen := make(map[string]map[string]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 6 {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("expected 6 fields, got %d", len(fields)))
		}
		qid, docID, tag := fields[0], fields[2], fields[5]
		if fields[1] != "Q0" {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("expected Q0 in column 2, got %q", fields[1]))
		}

		if _, err := strconv.Atoi(fields[3]); err != nil {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("invalid rank %q", fields[3]))
		}
		score, err := strconv.ParseFloat(fields[4], 64)
		if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("invalid score %q", fields[4]))
		}

		if opts.Method == "" {
			if method == "" {
				method = tag
			} else if tag != method {
				return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("run tag %q differs from %q", tag, method))
			}
		}

		docs := seen[qid]
		if docs == nil {
			docs = make(map[string]struct{})
			seen[qid] = docs
		}
		if _, dup := docs[docID]; dup {
			return nil, apperrors.ParseError(source, lineNo, fmt.Sprintf("duplicate document %s for query %s", docID, qid))
		}
		docs[docID] = struct{}{}

		results[qid] = append(results[qid], CandidateResult{QueryID: qid, DocID: docID, Score: score})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading run %s: %w", source, err)
	}

	out := NewRun(method)
	for qid, rs := range results {
		l := CandidateList{QueryID: qid, Method: method, Results: rs}
		l.Normalize()
		l.Truncate(opts.Depth)
		out.Lists[qid] = l
	}

	return out, nil
}

// LoadTREC reads the run file at path.
func LoadTREC(path string, opts ReadOptions) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening run: %w", err)
	}
	defer f.Close()

	return ReadTREC(f, path, opts)
}

// WriteTREC writes lists in TREC run format, queries ascending and candidates in
// list order. tag defaults to each list's method.
func WriteTREC(w io.Writer, tag string, lists []CandidateList) error {
	sorted := make([]CandidateList, len(lists))
	copy(sorted, lists)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QueryID < sorted[j].QueryID
	})

	bw := bufio.NewWriter(w)
	for _, l := range sorted {
		t := tag
		if t == "" {
			t = l.Method
		}
		for i, c := range l.Results {
			rank := c.Rank
			if rank == 0 {
				rank = i + 1
			}
			if _, err := fmt.Fprintf(bw, "%s Q0 %s %d %s %s\n",
				l.QueryID, c.DocID, rank, strconv.FormatFloat(c.Score, 'f', -1, 64), t); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
