package lms

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultGradeMax is the scale maximum assumed when an event does not carry one
var DefaultGradeMax = decimal.NewFromInt(100)

var hundred = decimal.NewFromInt(100)

// GradeBoundary is one row of a grading scale. A scaled grade maps to the
// first boundary whose MinScore it reaches.
type GradeBoundary struct {
	Letter   string
	MinScore decimal.Decimal
	Points   decimal.Decimal
}

// GradeResult is the outcome of evaluating a raw grade against a scale
type GradeResult struct {
	Scaled decimal.Decimal
	Letter string
	Points decimal.Decimal
}

// GradingScale maps scaled grades (0-100) to letters and grade points.
// It is immutable once built.
type GradingScale struct {
	boundaries []GradeBoundary
}

// NewGradingScale validates and builds a scale. Boundaries must be strictly
// descending by MinScore and the last one must start at zero so every
// non-negative grade has a letter.
func NewGradingScale(boundaries []GradeBoundary) (*GradingScale, error) {
	if len(boundaries) == 0 {
		return nil, ErrInvalidGradingScale
	}
	out := make([]GradeBoundary, len(boundaries))
	for i, b := range boundaries {
		b.Letter = strings.TrimSpace(b.Letter)
		if b.Letter == "" || b.Points.IsNegative() || b.MinScore.IsNegative() {
			return nil, ErrInvalidGradingScale
		}
		if i > 0 && !b.MinScore.LessThan(out[i-1].MinScore) {
			return nil, ErrInvalidGradingScale
		}
		out[i] = b
	}
	if !out[len(out)-1].MinScore.IsZero() {
		return nil, ErrInvalidGradingScale
	}
	return &GradingScale{boundaries: out}, nil
}

// MustGradingScale is like NewGradingScale but panics on an invalid table
func MustGradingScale(boundaries []GradeBoundary) *GradingScale {
	s, err := NewGradingScale(boundaries)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultGradeBoundaries returns the institution's standard letter table
func DefaultGradeBoundaries() []GradeBoundary {
	row := func(letter string, min int64, points string) GradeBoundary {
		return GradeBoundary{
			Letter:   letter,
			MinScore: decimal.NewFromInt(min),
			Points:   decimal.RequireFromString(points),
		}
	}
	return []GradeBoundary{
		row("A", 95, "4.0"),
		row("A-", 90, "3.7"),
		row("B+", 85, "3.3"),
		row("B", 80, "3.0"),
		row("C+", 75, "2.5"),
		row("C", 70, "2.0"),
		row("D+", 65, "1.5"),
		row("D", 60, "1.0"),
		row("F", 0, "0.0"),
	}
}

// DefaultGradingScale returns a scale built from DefaultGradeBoundaries
func DefaultGradingScale() *GradingScale {
	return MustGradingScale(DefaultGradeBoundaries())
}

// Boundaries returns a copy of the scale rows
func (s *GradingScale) Boundaries() []GradeBoundary {
	out := make([]GradeBoundary, len(s.boundaries))
	copy(out, s.boundaries)
	return out
}

// Lookup returns the boundary a scaled grade falls into.
// Negative grades fall into the lowest boundary.
func (s *GradingScale) Lookup(scaled decimal.Decimal) GradeBoundary {
	for _, b := range s.boundaries {
		if scaled.GreaterThanOrEqual(b.MinScore) {
			return b
		}
	}
	return s.boundaries[len(s.boundaries)-1]
}

// Evaluate scales a raw grade and maps it onto the table
func (s *GradingScale) Evaluate(raw *decimal.Decimal, max decimal.Decimal) GradeResult {
	scaled := ScaleGrade(raw, max)
	b := s.Lookup(scaled)
	return GradeResult{Scaled: scaled, Letter: b.Letter, Points: b.Points}
}

// ScaleGrade computes raw/max*100 rounded to two places.
// A missing grade or a non-positive maximum yields zero.
func ScaleGrade(raw *decimal.Decimal, max decimal.Decimal) decimal.Decimal {
	if raw == nil || !max.IsPositive() {
		return decimal.Zero
	}
	return raw.Mul(hundred).Div(max).Round(2)
}
