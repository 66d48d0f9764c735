package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/obsidianstack/microclimate/pkg/types"
)

// condition is a parsed "field op value" rule expression.
type condition struct {
	field     string
	op        string
	threshold float64
}

// parseCondition accepts "score > 0.8" and similar. The only field is score.
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"score <op> <value>\"", s)
	}
	c := condition{field: parts[0], op: parts[1]}
	if c.field != "score" {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: bad threshold: %w", s, err)
	}
	c.threshold = v
	return c, nil
}

// eval reports whether r matches and the value compared.
func (c condition) eval(r types.AnalysisResult) (bool, float64) {
	v := r.Score
	switch c.op {
	case ">":
		return v > c.threshold, v
	case ">=":
		return v >= c.threshold, v
	case "<":
		return v < c.threshold, v
	case "<=":
		return v <= c.threshold, v
	case "==":
		return v == c.threshold, v
	default:
		return false, v
	}
}
