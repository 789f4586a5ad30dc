package stance

import (
	"fmt"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// LabelScore holds per-label precision, recall and F1.
type LabelScore struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Scores summarizes predicted labels against gold labels.
type Scores struct {
	Accuracy float64              `json:"accuracy"`
	MacroF1  float64              `json:"macro_f1"`
	PerLabel map[Label]LabelScore `json:"per_label"`
	Total    int                  `json:"total"`
	Missing  int                  `json:"missing"`
}

// Evaluate compares predictions with gold labels matched by query and document.
// A gold pair without prediction counts as wrong and is reported in Missing.
// Predictions without gold labels are ignored. Macro-F1 averages over labels
// present in gold or predictions.
func Evaluate(gold, predicted []Labeled) (Scores, error) {
	pred := make(map[[2]string]Label, len(predicted))
	for _, p := range predicted {
		key := [2]string{p.QueryID, p.DocID}
		if _, dup := pred[key]; dup {
			return Scores{}, apperrors.ValidationError(fmt.Sprintf("duplicate prediction for %s/%s", p.QueryID, p.DocID))
		}
		pred[key] = p.Label
	}

	tp := make(map[Label]int)
	fp := make(map[Label]int)
	fn := make(map[Label]int)
	seen := make(map[[2]string]struct{}, len(gold))
	s := Scores{PerLabel: make(map[Label]LabelScore)}
	correct := 0

	for _, g := range gold {
		key := [2]string{g.QueryID, g.DocID}
		if _, dup := seen[key]; dup {
			return Scores{}, apperrors.ValidationError(fmt.Sprintf("duplicate gold label for %s/%s", g.QueryID, g.DocID))
		}
		seen[key] = struct{}{}
		s.Total++

		p, ok := pred[key]
		switch {
		case !ok:
			s.Missing++
			fn[g.Label]++
		case p == g.Label:
			correct++
			tp[g.Label]++
		default:
			fn[g.Label]++
			fp[p]++
		}
	}

	if s.Total == 0 {
		return s, nil
	}
	s.Accuracy = float64(correct) / float64(s.Total)

	present := 0
	sumF1 := 0.0
	for _, l := range Labels {
		if tp[l]+fp[l]+fn[l] == 0 {
			continue
		}
		ls := LabelScore{Support: tp[l] + fn[l]}
		if tp[l]+fp[l] > 0 {
			ls.Precision = float64(tp[l]) / float64(tp[l]+fp[l])
		}
		if tp[l]+fn[l] > 0 {
			ls.Recall = float64(tp[l]) / float64(tp[l]+fn[l])
		}
		if ls.Precision+ls.Recall > 0 {
			ls.F1 = 2 * ls.Precision * ls.Recall / (ls.Precision + ls.Recall)
		}
		s.PerLabel[l] = ls
		sumF1 += ls.F1
		present++
	}
	s.MacroF1 = sumF1 / float64(present)

	return s, nil
}
