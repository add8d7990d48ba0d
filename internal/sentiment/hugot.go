package sentiment

import (
	"context"
	"fmt"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// Hugot runs a local ONNX text-classification model, for example an export
// of SamLowe/roberta-base-go_emotions.
type Hugot struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
}

// NewHugot loads the model at modelPath.
func NewHugot(modelPath string) (*Hugot, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("hugot classifier: model path is required")
	}

	session, err := hugot.NewORTSession()
	if err != nil {
		return nil, fmt.Errorf("hugot session: %w", err)
	}

	config := hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "postClassificationPipeline",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("hugot pipeline: %w", err)
	}

	return &Hugot{session: session, pipeline: pipeline}, nil
}

func (h *Hugot) Classify(_ context.Context, text string) ([]Score, error) {
	plain := RemoveLinks(text)
	if plain == "" {
		return nil, ErrEmptyText
	}

	output, err := h.pipeline.RunPipeline([]string{plain})
	if err != nil {
		return nil, fmt.Errorf("run pipeline: %w", err)
	}
	if len(output.ClassificationOutputs) == 0 {
		return nil, fmt.Errorf("run pipeline: no output")
	}

	results := output.ClassificationOutputs[0]
	scores := make([]Score, 0, len(results))
	for _, r := range results {
		scores = append(scores, Score{Label: r.Label, Score: clamp01(float64(r.Score))})
	}
	sortScores(scores)
	return scores, nil
}

func (h *Hugot) Close() error {
	return h.session.Destroy()
}
