package evaluation

import (
	"fmt"
	"strconv"

	"github.com/ricesearch/rice-eval/internal/judgment"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// MetricResult is one metric value for one query.
// Scored is false when the query has no judgments; Value is then 0 and meaningless.
type MetricResult struct {
	QueryID string  `json:"query_id"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Scored  bool    `json:"scored"`
}

// Metric name prefixes. Cutoff metrics are suffixed with "@K".
const (
	MetricNDCG      = "ndcg"
	MetricPrecision = "p"
	MetricRecall    = "recall"
	MetricMRR       = "mrr"
	MetricAP        = "ap"
)

// Options configures an Evaluator.
type Options struct {
	// Ks lists the cutoffs for ndcg, p and recall.
	Ks []int `yaml:"ks" json:"ks"`

	// Grade selects relevance or quality labels.
	Grade judgment.Grade `yaml:"grade" json:"grade"`

	// Threshold is the minimum grade counted as relevant by the binary metrics.
	Threshold int `yaml:"threshold" json:"threshold"`
}

// DefaultOptions returns nDCG@5/@10 on relevance with threshold 1.
func DefaultOptions() Options {
	return Options{
		Ks:        []int{5, 10},
		Grade:     judgment.GradeRelevance,
		Threshold: 1,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if len(o.Ks) == 0 {
		return apperrors.ConfigError("at least one cutoff k is required")
	}
	for _, k := range o.Ks {
		if k <= 0 {
			return apperrors.ConfigError(fmt.Sprintf("cutoff k must be positive, got %d", k))
		}
	}
	if !o.Grade.Valid() {
		return apperrors.ConfigError(fmt.Sprintf("unknown grade %q", o.Grade))
	}
	if o.Threshold <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("threshold must be positive, got %d", o.Threshold))
	}
	return nil
}

// MetricName returns the report name of a metric, such as "ndcg@5" or "quality_mrr".
// k <= 0 omits the cutoff.
func MetricName(base string, k int, grade judgment.Grade) string {
	name := base
	if k > 0 {
		name += "@" + strconv.Itoa(k)
	}
	if grade == judgment.GradeQuality {
		name = "quality_" + name
	}
	return name
}

// Names returns the metric names the options produce, in output order.
func (o Options) Names() []string {
	names := make([]string, 0, 3*len(o.Ks)+2)
	for _, k := range o.Ks {
		names = append(names,
			MetricName(MetricNDCG, k, o.Grade),
			MetricName(MetricPrecision, k, o.Grade),
			MetricName(MetricRecall, k, o.Grade),
		)
	}
	return append(names, MetricName(MetricMRR, 0, o.Grade), MetricName(MetricAP, 0, o.Grade))
}
