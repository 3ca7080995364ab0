package models

import "fmt"

// ScoreKind tags where a candidate's score came from.
type ScoreKind string

const (
	ScoreRerank   ScoreKind = "rerank"
	ScoreDistance ScoreKind = "distance"
	ScorePosition ScoreKind = "position"
)

// ScoreSource is a tagged score. Use the constructors; the zero value
// reports relevance 0.
type ScoreSource struct {
	Kind  ScoreKind `json:"kind"`
	Value float64   `json:"value"`
}

// RerankScore wraps an LLM relevance score on the 0-10 scale.
func RerankScore(s float64) ScoreSource { return ScoreSource{Kind: ScoreRerank, Value: s} }

// DistanceScore wraps a cosine distance.
func DistanceScore(d float64) ScoreSource { return ScoreSource{Kind: ScoreDistance, Value: d} }

// PositionScore wraps a zero-based rank.
func PositionScore(i int) ScoreSource { return ScoreSource{Kind: ScorePosition, Value: float64(i)} }

// Relevance maps the score to [0,1].
func (s ScoreSource) Relevance() float64 {
	var r float64
	switch s.Kind {
	case ScoreRerank:
		r = s.Value / 10
	case ScoreDistance:
		r = 1 - s.Value
	case ScorePosition:
		r = 1 / (s.Value + 1)
	default:
		return 0
	}
	return clamp01(r)
}

func (s ScoreSource) String() string {
	return fmt.Sprintf("%s(%g)", s.Kind, s.Value)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
