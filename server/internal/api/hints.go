package api

import (
	"fmt"
	"time"

	"github.com/obsidianstack/microclimate/pkg/types"
	"github.com/obsidianstack/microclimate/server/internal/score"
)

// Hint is one human-readable note about a source's latest result. The UI
// shows these as chips next to the source marker.
type Hint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning".
	Level string `json:"level"`
	Title string `json:"title"`
	// Detail is the longer explanation shown on hover.
	Detail string `json:"detail"`
}

// Exposure thresholds for the sun-exposure hint.
const (
	sunnyAbove    = 0.6
	overcastBelow = 0.25
)

// computeHints derives hints from a source's latest result. r is nil when no
// result is stored. A result older than staleAfter is flagged; staleAfter <= 0
// disables the check.
func computeHints(r *types.AnalysisResult, now time.Time, staleAfter time.Duration) []Hint {
	if r == nil {
		return []Hint{{
			Key:   "no_data",
			Level: "info",
			Title: "No data yet",
			Detail: "No analysis has been stored for this source. It appears after the next " +
				"successful fetch; a source that keeps failing is skipped every cycle.",
		}}
	}

	var hints []Hint

	if staleAfter > 0 {
		if age := now.Sub(r.Time()); age > staleAfter {
			hints = append(hints, Hint{
				Key:   "stale",
				Level: "warning",
				Title: "Stale reading",
				Detail: fmt.Sprintf("The latest result is %s old. Recent fetches for this source "+
					"have been failing or timing out.", age.Truncate(time.Second)),
			})
		}
	}

	if r.Score == score.Neutral {
		hints = append(hints, Hint{
			Key:   "neutral",
			Level: "info",
			Title: "Neutral score",
			Detail: "A score of exactly 0.5 is also what an undecodable image produces. " +
				"Check the source URL if it persists.",
		})
	}

	switch {
	case r.Score >= sunnyAbove:
		hints = append(hints, Hint{Key: "sunny", Level: "ok", Title: "Sunny",
			Detail: fmt.Sprintf("%.0f%% of the frame is bright.", r.Score*100)})
	case r.Score <= overcastBelow:
		hints = append(hints, Hint{Key: "overcast", Level: "ok", Title: "Overcast or shaded",
			Detail: fmt.Sprintf("Only %.0f%% of the frame is bright.", r.Score*100)})
	default:
		hints = append(hints, Hint{Key: "mixed", Level: "ok", Title: "Mixed light",
			Detail: fmt.Sprintf("%.0f%% of the frame is bright.", r.Score*100)})
	}
	return hints
}
