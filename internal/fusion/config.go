// Package fusion merges the ranked candidate lists of several retrieval methods
// into one ranking per query.
package fusion

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/hash"
)

// Strategy selects how per-method scores are combined.
type Strategy string

const (
	// StrategyWeighted sums weighted, normalized scores over the methods that retrieved a document.
	StrategyWeighted Strategy = "weighted"

	// StrategyRRF sums weight/(k + rank) over the methods that retrieved a document.
	StrategyRRF Strategy = "rrf"

	// StrategyIntersection keeps only documents retrieved by every weighted method.
	StrategyIntersection Strategy = "intersection"
)

// Normalization selects the per-query score normalization applied before weighting.
type Normalization string

const (
	NormalizeMinMax Normalization = "minmax"
	NormalizeNone   Normalization = "none"
)

const (
	// DefaultRRFK is the RRF smoothing constant.
	// Higher values reduce the impact of rank position differences.
	DefaultRRFK = 60

	// DefaultTopK is the fused ranking depth.
	DefaultTopK = 10
)

// Config describes one fusion configuration. Configurations are compared
// against each other by name in reports.
type Config struct {
	// Name identifies the configuration and is used as the TREC run tag.
	Name string `yaml:"name" json:"name"`

	// Strategy defaults to weighted.
	Strategy Strategy `yaml:"strategy" json:"strategy,omitempty"`

	// Weights maps a retrieval method name to its weight. Methods with zero
	// or no weight do not contribute.
	Weights map[string]float64 `yaml:"weights" json:"weights"`

	// TopK truncates the fused ranking.
	TopK int `yaml:"top_k" json:"top_k"`

	// RRFK is the smoothing constant of the rrf strategy (default: 60).
	RRFK int `yaml:"rrf_k" json:"rrf_k,omitempty"`

	// Normalization defaults to minmax. Ignored by rrf.
	Normalization Normalization `yaml:"normalization" json:"normalization,omitempty"`
}

// DefaultConfig returns an equal-weight sparse/dense configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "fused",
		Strategy:      StrategyWeighted,
		Weights:       map[string]float64{"sparse": 0.5, "dense": 0.5},
		TopK:          DefaultTopK,
		RRFK:          DefaultRRFK,
		Normalization: NormalizeMinMax,
	}
}

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyWeighted
	}
	if c.Normalization == "" {
		c.Normalization = NormalizeMinMax
	}
	if c.RRFK == 0 {
		c.RRFK = DefaultRRFK
	}
	return c
}

// Validate reports every problem with the configuration as a single CONFIG_ERROR.
func (c Config) Validate() error {
	c = c.withDefaults()
	var errs []string

	if c.Name == "" {
		errs = append(errs, "name is required")
	} else if strings.ContainsAny(c.Name, " \t\r\n") {
		errs = append(errs, fmt.Sprintf("name %q must not contain whitespace", c.Name))
	}

	switch c.Strategy {
	case StrategyWeighted, StrategyRRF, StrategyIntersection:
	default:
		errs = append(errs, fmt.Sprintf("unknown strategy %q", c.Strategy))
	}

	switch c.Normalization {
	case NormalizeMinMax, NormalizeNone:
	default:
		errs = append(errs, fmt.Sprintf("unknown normalization %q", c.Normalization))
	}

	if c.TopK <= 0 {
		errs = append(errs, fmt.Sprintf("top_k must be positive, got %d", c.TopK))
	}
	if c.RRFK < 0 {
		errs = append(errs, fmt.Sprintf("rrf_k must not be negative, got %d", c.RRFK))
	}

	total := 0.0
	for _, m := range sortedKeys(c.Weights) {
		w := c.Weights[m]
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			errs = append(errs, fmt.Sprintf("weight for %s must be a non-negative number, got %v", m, w))
			continue
		}
		total += w
	}
	if total <= 0 {
		errs = append(errs, "total weight must be positive")
	}

	if len(errs) > 0 {
		return apperrors.ConfigError(fmt.Sprintf("fusion config %q: %s", c.Name, strings.Join(errs, "; ")))
	}
	return nil
}

// Methods returns the contributing methods, highest weight first and by name
// among equal weights. The first method decides ties between fused scores.
func (c Config) Methods() []string {
	methods := make([]string, 0, len(c.Weights))
	for m, w := range c.Weights {
		if w > 0 {
			methods = append(methods, m)
		}
	}
	sort.Slice(methods, func(i, j int) bool {
		wi, wj := c.Weights[methods[i]], c.Weights[methods[j]]
		if wi != wj {
			return wi > wj
		}
		return methods[i] < methods[j]
	})
	return methods
}

// Fingerprint identifies the effective configuration so stored reports can be
// matched to the settings that produced them.
func (c Config) Fingerprint() string {
	c = c.withDefaults()
	parts := []string{
		c.Name,
		string(c.Strategy),
		string(c.Normalization),
		strconv.Itoa(c.TopK),
		strconv.Itoa(c.RRFK),
	}
	for _, m := range sortedKeys(c.Weights) {
		parts = append(parts, m+"="+strconv.FormatFloat(c.Weights[m], 'g', -1, 64))
	}
	return hash.Fingerprint(parts...)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
