// Package classifier runs single-label image classification.
package classifier

import (
	"context"
	"errors"
	"image"
	"math"
)

// Prediction is the top-scoring class of one image.
type Prediction struct {
	Label      string  `json:"top_label"`
	Confidence float64 `json:"confidence"`
}

// Classifier is safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Prediction, error)
}

var ErrNoScores = errors.New("model returned no scores")

// Top1 picks the highest score. Ties resolve to the lowest index.
func Top1(scores []float32, labels []string) (Prediction, error) {
	if len(scores) == 0 {
		return Prediction{}, ErrNoScores
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	label := ""
	if best < len(labels) {
		label = labels[best]
	}
	return Prediction{Label: label, Confidence: float64(scores[best])}, nil
}

// Softmax converts logits to probabilities in place.
func Softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	hi := v[0]
	for _, x := range v[1:] {
		if x > hi {
			hi = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - hi))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
