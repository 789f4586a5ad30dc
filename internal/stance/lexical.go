package stance

import (
	"context"
	"sort"
	"strings"

	"github.com/ricesearch/rice-eval/internal/topic"
)

// PositiveCues mark the object mentioned just before them as favored.
var PositiveCues = []string{
	"better", "best", "superior", "faster", "cheaper", "easier", "safer",
	"healthier", "more reliable", "more efficient", "prefer", "preferable",
	"outperforms", "beats", "wins", "recommend",
}

// NegativeCues mark the object mentioned just before them as disfavored.
var NegativeCues = []string{
	"worse", "worst", "inferior", "slower", "more expensive", "harder",
	"less reliable", "less efficient", "loses", "avoid",
}

// NeutralCues indicate a comparison without a winner.
var NeutralCues = []string{
	"both", "equally", "depends", "similar", "same as", "as good as", "neither",
}

// Lexical is a deterministic cue-word baseline. It is usable on its own as a
// Classifier, or as the Detector and Resolver of a TwoStage.
type Lexical struct{}

type cue struct {
	pos  int
	sign int // +1 favors, -1 disfavors, 0 neutral
}

type analysis struct {
	mentions [2][]int
	cues     []cue
}

func analyze(in Input) analysis {
	text := " " + topic.Clean(strings.ToLower(in.Text)) + " "

	var a analysis
	for i, obj := range in.Objects {
		obj = topic.Clean(strings.ToLower(obj))
		if obj != "" {
			a.mentions[i] = findAll(text, " "+obj+" ")
		}
	}
	for sign, list := range map[int][]string{1: PositiveCues, -1: NegativeCues, 0: NeutralCues} {
		for _, c := range list {
			for _, p := range findAll(text, " "+c+" ") {
				a.cues = append(a.cues, cue{pos: p, sign: sign})
			}
		}
	}
	sort.Slice(a.cues, func(i, j int) bool {
		if a.cues[i].pos != a.cues[j].pos {
			return a.cues[i].pos < a.cues[j].pos
		}
		return a.cues[i].sign < a.cues[j].sign
	})
	return a
}

func findAll(text, pattern string) []int {
	var out []int
	for start := 0; ; {
		i := strings.Index(text[start:], pattern)
		if i < 0 {
			return out
		}
		out = append(out, start+i)
		start += i + 1
	}
}

// Detect reports a stance when the passage mentions an object and contains a cue.
func (Lexical) Detect(_ context.Context, in Input) (bool, float32, error) {
	a := analyze(in)
	mentioned := len(a.mentions[0]) > 0 || len(a.mentions[1]) > 0
	if !mentioned || len(a.cues) == 0 {
		if mentioned {
			return false, 0.6, nil
		}
		return false, 0.9, nil
	}
	if len(a.mentions[0]) > 0 && len(a.mentions[1]) > 0 {
		return true, 0.8, nil
	}
	return true, 0.6, nil
}

// Resolve credits each polar cue to the closest object mentioned before it.
func (Lexical) Resolve(_ context.Context, in Input) (Prediction, error) {
	a := analyze(in)

	var score [2]int
	neutral := 0
	for _, c := range a.cues {
		if c.sign == 0 {
			neutral++
			continue
		}
		if obj := closestBefore(a.mentions, c.pos); obj >= 0 {
			score[obj] += c.sign
		}
	}

	switch {
	case score[0] > score[1]:
		return Prediction{Label: LabelFirst, Confidence: margin(score)}, nil
	case score[1] > score[0]:
		return Prediction{Label: LabelSecond, Confidence: margin(score)}, nil
	case neutral > 0:
		return Prediction{Label: LabelNeutral, Confidence: 0.7}, nil
	default:
		return Prediction{Label: LabelNeutral, Confidence: 0.4}, nil
	}
}

// Classify runs Detect and Resolve as one classifier.
func (l Lexical) Classify(ctx context.Context, in Input) (Prediction, error) {
	return TwoStage{Detector: l, Resolver: l}.Classify(ctx, in)
}

func closestBefore(mentions [2][]int, pos int) int {
	best, bestPos := -1, -1
	for obj, list := range mentions {
		for _, p := range list {
			if p < pos && p > bestPos {
				best, bestPos = obj, p
			}
		}
	}
	return best
}

func margin(score [2]int) float32 {
	d := score[0] - score[1]
	if d < 0 {
		d = -d
	}
	conf := 0.5 + 0.1*float32(d)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
