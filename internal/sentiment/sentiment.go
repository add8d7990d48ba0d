// Package sentiment labels free text with sentiment or emotion scores. It is
// independent of ingestion: callers hand it the sanitized text of a post.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrEmptyText is returned when there is nothing to classify.
var ErrEmptyText = errors.New("text is empty")

// Score is one label with a confidence in [0,1].
type Score struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier labels text.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]Score, error)
	Close() error
}

// New builds the classifier named by kind: "vader" or "hugot". modelPath is
// only used by hugot.
func New(kind, modelPath string) (Classifier, error) {
	switch kind {
	case "", "vader":
		return NewVADER(), nil
	case "hugot":
		h, err := NewHugot(modelPath)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", kind)
	}
}

// Top returns the highest scoring label. Ties keep the earlier label.
func Top(scores []Score) (Score, bool) {
	if len(scores) == 0 {
		return Score{}, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best, true
}

// sortScores orders scores by descending score, then label.
func sortScores(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Label < scores[j].Label
	})
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
