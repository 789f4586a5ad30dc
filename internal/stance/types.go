// Package stance classifies the stance a passage takes towards the two objects
// of a comparative question.
package stance

import (
	"context"
	"fmt"
	"strings"
)

// Label is the stance of a passage.
type Label string

const (
	// LabelFirst - the passage favors the first object.
	LabelFirst Label = "FIRST"

	// LabelSecond - the passage favors the second object.
	LabelSecond Label = "SECOND"

	// LabelNeutral - the passage compares without preferring either object.
	LabelNeutral Label = "NEUTRAL"

	// LabelNo - the passage takes no stance.
	LabelNo Label = "NO"
)

// Labels lists every label in report order.
var Labels = []Label{LabelFirst, LabelSecond, LabelNeutral, LabelNo}

// ParseLabel parses a label case-insensitively.
func ParseLabel(s string) (Label, error) {
	l := Label(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Labels {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown stance label %q", s)
}

// Input is one passage to classify for a query.
type Input struct {
	QueryID string    `json:"query_id"`
	DocID   string    `json:"doc_id"`
	Query   string    `json:"query"`
	Text    string    `json:"text"`
	Objects [2]string `json:"objects"`
}

// Prediction is a classifier's output for one input.
type Prediction struct {
	Label      Label   `json:"label"`
	Confidence float32 `json:"confidence"` // 0-1
}

// Classifier assigns one of the four labels to a passage.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Prediction, error)
}

// Detector decides whether a passage takes any stance.
type Detector interface {
	Detect(ctx context.Context, in Input) (hasStance bool, confidence float32, err error)
}

// Resolver picks FIRST, SECOND or NEUTRAL for a passage known to take a stance.
type Resolver interface {
	Resolve(ctx context.Context, in Input) (Prediction, error)
}

// Labeled is a gold or predicted label for a query/document pair.
type Labeled struct {
	QueryID string `json:"query_id"`
	DocID   string `json:"doc_id"`
	Label   Label  `json:"label"`
}
