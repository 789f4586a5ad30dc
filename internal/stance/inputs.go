package stance

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/fusion"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/topic"
)

// SelectInputs builds classifier inputs from the top n passages of a fused ranking.
// n <= 0 uses the whole ranking. Every selected document must be in passages.
func SelectInputs(r fusion.Ranking, passages *corpus.Corpus, q topic.Query, n int) ([]Input, error) {
	entries := r.Entries
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}

	inputs := make([]Input, 0, len(entries))
	var missing []string
	for _, e := range entries {
		p, ok := passages.Get(e.DocID)
		if !ok {
			missing = append(missing, e.DocID)
			continue
		}
		inputs = append(inputs, Input{
			QueryID: r.QueryID,
			DocID:   e.DocID,
			Query:   q.Text,
			Text:    p.Text,
			Objects: q.Objects,
		})
	}

	if len(missing) > 0 {
		return nil, apperrors.NotFoundError(fmt.Sprintf("passages for query %s: %s", r.QueryID, strings.Join(missing, ", ")))
	}
	return inputs, nil
}
