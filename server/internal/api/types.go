package api

import "github.com/obsidianstack/microclimate/pkg/types"

// SourceResponse is one entry in GET /api/v1/sources.
type SourceResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	FetchURL  string  `json:"fetchURL"`
}

// AnalysisResponse is the payload for GET /api/v1/analysis/{id}. Score is
// null when no result is stored for the source.
type AnalysisResponse struct {
	SourceID  string   `json:"sourceID"`
	Score     *float64 `json:"score"`
	Timestamp float64  `json:"timestamp,omitempty"`
	SourceURL string   `json:"sourceURL,omitempty"`
}

// SourceAnalysis is one entry in GET /api/v1/analysis: a registered source,
// its latest result if any, and derived hints.
type SourceAnalysis struct {
	Source   SourceResponse   `json:"source"`
	Analysis AnalysisResponse `json:"analysis"`
	Hints    []Hint           `json:"hints"`
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	Scheduler   string `json:"scheduler"`
	Store       string `json:"store"`
	Subscribers int    `json:"subscribers"`
	GeneratedAt string `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func toSourceResponse(s types.Source) SourceResponse {
	return SourceResponse{
		ID:        s.ID,
		Name:      s.Name,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		FetchURL:  s.FetchURL,
	}
}

func toAnalysisResponse(id string, r *types.AnalysisResult) AnalysisResponse {
	if r == nil {
		return AnalysisResponse{SourceID: id}
	}
	score := r.Score
	return AnalysisResponse{
		SourceID:  r.SourceID,
		Score:     &score,
		Timestamp: r.Timestamp,
		SourceURL: r.SourceURL,
	}
}
