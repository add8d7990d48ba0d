package sentiment

import (
	"context"
	"regexp"
	"strings"

	"github.com/jonreiter/govader"
)

var urlPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)

// VADER is a lexicon-based classifier returning positive, negative and
// neutral proportions plus a compound-derived label.
type VADER struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVADER creates a VADER classifier.
func NewVADER() *VADER {
	return &VADER{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// RemoveLinks strips URLs, which carry no sentiment and confuse the lexicon.
func RemoveLinks(input string) string {
	return strings.Join(strings.Fields(urlPattern.ReplaceAllString(input, "")), " ")
}

func (v *VADER) Classify(_ context.Context, text string) ([]Score, error) {
	plain := RemoveLinks(text)
	if plain == "" {
		return nil, ErrEmptyText
	}

	s := v.analyzer.PolarityScores(plain)
	scores := []Score{
		{Label: "positive", Score: clamp01(s.Positive)},
		{Label: "negative", Score: clamp01(s.Negative)},
		{Label: "neutral", Score: clamp01(s.Neutral)},
	}
	sortScores(scores)
	return scores, nil
}

func (v *VADER) Close() error { return nil }
