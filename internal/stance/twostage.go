package stance

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TwoStage runs a stance/no-stance detector and, for passages with a stance,
// a resolver that picks the favored object.
type TwoStage struct {
	Detector Detector
	Resolver Resolver
}

// Classify implements Classifier.
func (t TwoStage) Classify(ctx context.Context, in Input) (Prediction, error) {
	has, conf, err := t.Detector.Detect(ctx, in)
	if err != nil {
		return Prediction{}, fmt.Errorf("detecting stance: %w", err)
	}
	if !has {
		return Prediction{Label: LabelNo, Confidence: conf}, nil
	}

	p, err := t.Resolver.Resolve(ctx, in)
	if err != nil {
		return Prediction{}, fmt.Errorf("resolving stance: %w", err)
	}
	if p.Label == LabelNo {
		return Prediction{}, fmt.Errorf("resolver returned %s for %s/%s", LabelNo, in.QueryID, in.DocID)
	}

	// Both stages have to be right for the final label.
	p.Confidence *= conf
	return p, nil
}

// ClassifyAll classifies inputs on up to workers goroutines, keeping input order.
func ClassifyAll(ctx context.Context, c Classifier, inputs []Input, workers int) ([]Labeled, error) {
	out := make([]Labeled, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := c.Classify(ctx, in)
			if err != nil {
				return err
			}
			out[i] = Labeled{QueryID: in.QueryID, DocID: in.DocID, Label: p.Label}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
