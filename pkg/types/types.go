package types

import (
	"math"
	"os"
	"time"
)

// KeyPrefix namespaces analysis results in the result store.
const KeyPrefix = "analysis:"

// EventAnalysis is the envelope type for a freshly computed result.
const EventAnalysis = "analysis"

// AnalysisKey returns the store key holding the latest result for sourceID.
func AnalysisKey(sourceID string) string {
	return KeyPrefix + sourceID
}

// Source is one registered image endpoint. Sources are immutable for the
// duration of a cycle; the registry reloads them at the start of every cycle.
type Source struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	FetchURL  string     `json:"fetchURL"`
	Auth      SourceAuth `json:"-"`
}

// SourceAuth configures how the fetcher authenticates to a source.
// Secrets are never stored inline; they are resolved from the environment.
type SourceAuth struct {
	// Mode is one of: none | basic | bearer | apikey. Empty means none.
	Mode string `yaml:"mode"`

	// Header is the request header carrying the key when Mode == "apikey".
	Header string `yaml:"header"`

	// KeyEnv, TokenEnv and PasswordEnv name environment variables.
	KeyEnv      string `yaml:"key_env"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a SourceAuth) Key() string { return lookupEnv(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a SourceAuth) Token() string { return lookupEnv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a SourceAuth) Password() string { return lookupEnv(a.PasswordEnv) }

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// AnalysisResult is the scored output for one source in one cycle.
// It is created once per successful fetch and never mutated afterwards.
type AnalysisResult struct {
	SourceID string `json:"sourceID"`

	// Score is the sun-exposure fraction, always within [0, 1].
	Score float64 `json:"score"`

	// Timestamp is the fetch completion time in Unix seconds.
	Timestamp float64 `json:"timestamp"`

	SourceURL string `json:"sourceURL"`
}

// NewAnalysisResult builds a result for src. score is clamped to [0, 1] and
// rounded to four decimal places.
func NewAnalysisResult(src Source, score float64, at time.Time) AnalysisResult {
	return AnalysisResult{
		SourceID:  src.ID,
		Score:     round4(clamp01(score)),
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
		SourceURL: src.FetchURL,
	}
}

// Time returns Timestamp as a time.Time.
func (r AnalysisResult) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Envelope is the JSON message delivered to every hub subscriber.
type Envelope struct {
	Type    string         `json:"type"`
	Payload AnalysisResult `json:"payload"`
}

// NewAnalysisEnvelope wraps r in an "analysis" envelope.
func NewAnalysisEnvelope(r AnalysisResult) Envelope {
	return Envelope{Type: EventAnalysis, Payload: r}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
