package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/obsidianstack/microclimate/pkg/types"
	"github.com/obsidianstack/microclimate/server/internal/alerts"
	"github.com/obsidianstack/microclimate/server/internal/api"
	"github.com/obsidianstack/microclimate/server/internal/ingest"
	"github.com/obsidianstack/microclimate/server/internal/registry"
	"github.com/obsidianstack/microclimate/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func src(id string) types.Source {
	return types.Source{
		ID: id, Name: "Cam " + id, Latitude: 40.7, Longitude: -74.0,
		FetchURL: "http://cams.test/" + id + ".jpg",
	}
}

func newStore(t *testing.T, results ...types.AnalysisResult) *store.Store {
	t.Helper()
	st := store.New(store.Options{})
	t.Cleanup(func() { st.Close() })
	for _, r := range results {
		if err := st.Set(context.Background(), types.AnalysisKey(r.SourceID), r, 0); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	return st
}

func result(id string, score float64) types.AnalysisResult {
	return types.NewAnalysisResult(src(id), score, time.Now())
}

type brokenRegistry struct{}

func (brokenRegistry) List(context.Context) ([]types.Source, error) {
	return nil, errors.New("malformed table")
}

type fixedState ingest.State

func (s fixedState) State() ingest.State { return ingest.State(s) }

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/sources --------------------------------------------------------

func TestSources_List(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{src("a"), src("b")}, Store: newStore(t)}, api.Options{})
	rr := get(t, h, "/api/v1/sources")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var out []map[string]interface{}
	decode(t, rr, &out)
	if len(out) != 2 {
		t.Fatalf("len: got %d, want 2", len(out))
	}
	for _, field := range []string{"id", "name", "latitude", "longitude", "fetchURL"} {
		if _, ok := out[0][field]; !ok {
			t.Errorf("field %q missing from source response", field)
		}
	}
	if out[1]["id"] != "b" {
		t.Errorf("order: got %v, want b second", out[1]["id"])
	}
}

func TestSources_Empty(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{})
	rr := get(t, h, "/api/v1/sources")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body: got %q, want []", body)
	}
}

func TestSources_RegistryError(t *testing.T) {
	h := api.New(api.Deps{Registry: brokenRegistry{}, Store: newStore(t)}, api.Options{})
	rr := get(t, h, "/api/v1/sources")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", rr.Code)
	}
	var resp map[string]string
	decode(t, rr, &resp)
	if resp["error"] == "" {
		t.Error("error: got empty message")
	}
}

func TestSources_LegacyPath(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{src("a")}, Store: newStore(t)}, api.Options{})
	if rr := get(t, h, "/api/webcams"); rr.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rr.Code)
	}
}

// --- /api/v1/analysis/{id} --------------------------------------------------

func TestAnalysis_Found(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{src("a")}, Store: newStore(t, result("a", 0.42))}, api.Options{})
	rr := get(t, h, "/api/v1/analysis/a")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["sourceID"] != "a" {
		t.Errorf("sourceID: got %v, want a", resp["sourceID"])
	}
	if resp["score"] != 0.42 {
		t.Errorf("score: got %v, want 0.42", resp["score"])
	}
	if resp["sourceURL"] != "http://cams.test/a.jpg" {
		t.Errorf("sourceURL: got %v", resp["sourceURL"])
	}
	if ts, _ := resp["timestamp"].(float64); ts <= 0 {
		t.Errorf("timestamp: got %v, want positive", resp["timestamp"])
	}
}

func TestAnalysis_MissReturnsNullScore(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{})
	rr := get(t, h, "/api/v1/analysis/ghost")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["sourceID"] != "ghost" {
		t.Errorf("sourceID: got %v, want ghost", resp["sourceID"])
	}
	score, present := resp["score"]
	if !present || score != nil {
		t.Errorf("score: got %v (present=%v), want null", score, present)
	}
}

func TestAnalysis_LegacyPath(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t, result("a", 0.1))}, api.Options{})
	rr := get(t, h, "/api/analysis/a")
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["score"] != 0.1 {
		t.Errorf("score: got %v, want 0.1", resp["score"])
	}
}

func TestAnalysis_NestedPathNotFound(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{})
	if rr := get(t, h, "/api/v1/analysis/a/extra"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

// --- /api/v1/analysis -------------------------------------------------------

func TestAnalysisList_MixedPresence(t *testing.T) {
	h := api.New(api.Deps{
		Registry: registry.Static{src("a"), src("b")},
		Store:    newStore(t, result("a", 0.8)),
	}, api.Options{})
	rr := get(t, h, "/api/v1/analysis")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var out []api.SourceAnalysis
	decode(t, rr, &out)
	if len(out) != 2 {
		t.Fatalf("len: got %d, want 2", len(out))
	}
	if out[0].Analysis.Score == nil || *out[0].Analysis.Score != 0.8 {
		t.Errorf("a score: got %v, want 0.8", out[0].Analysis.Score)
	}
	if out[1].Analysis.Score != nil {
		t.Errorf("b score: got %v, want nil", *out[1].Analysis.Score)
	}
	if out[1].Source.Name != "Cam b" {
		t.Errorf("b name: got %q, want Cam b", out[1].Source.Name)
	}
	if len(out[0].Hints) == 0 || out[0].Hints[0].Key != "sunny" {
		t.Errorf("a hints: got %+v, want sunny first", out[0].Hints)
	}
	if len(out[1].Hints) != 1 || out[1].Hints[0].Key != "no_data" {
		t.Errorf("b hints: got %+v, want [no_data]", out[1].Hints)
	}
}

func TestAnalysisList_TrailingSlash(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{src("a")}, Store: newStore(t)}, api.Options{})
	rr := get(t, h, "/api/v1/analysis/")
	var out []api.SourceAnalysis
	decode(t, rr, &out)
	if len(out) != 1 {
		t.Errorf("len: got %d, want 1", len(out))
	}
}

func TestAnalysisList_RegistryError(t *testing.T) {
	h := api.New(api.Deps{Registry: brokenRegistry{}, Store: newStore(t)}, api.Options{})
	if rr := get(t, h, "/api/v1/analysis"); rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
}

// --- /api/v1/status ---------------------------------------------------------

func TestStatus(t *testing.T) {
	h := api.New(api.Deps{
		Registry:  registry.Static{},
		Store:     newStore(t),
		Scheduler: fixedState(ingest.Running),
		Hub:       fixedCount(3),
	}, api.Options{})
	rr := get(t, h, "/api/v1/status")

	var resp api.StatusResponse
	decode(t, rr, &resp)
	if resp.Scheduler != "running" {
		t.Errorf("scheduler: got %q, want running", resp.Scheduler)
	}
	if resp.Store != "fallback" {
		t.Errorf("store: got %q, want fallback", resp.Store)
	}
	if resp.Subscribers != 3 {
		t.Errorf("subscribers: got %d, want 3", resp.Subscribers)
	}
	if _, err := time.Parse(time.RFC3339, resp.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

func TestStatus_NoSchedulerOrHub(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{})
	var resp api.StatusResponse
	decode(t, get(t, h, "/api/v1/status"), &resp)
	if resp.Scheduler != "unknown" || resp.Subscribers != 0 {
		t.Errorf("got %+v, want unknown scheduler and 0 subscribers", resp)
	}
}

// --- /api/v1/alerts --------------------------------------------------------

type fixedAlerts []alerts.Alert

func (a fixedAlerts) Active() []alerts.Alert { return a }

func TestAlerts_EmptyWithoutEngine(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{})
	rr := get(t, h, "/api/v1/alerts")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body: got %q, want []", body)
	}
}

func TestAlerts_List(t *testing.T) {
	h := api.New(api.Deps{
		Registry: registry.Static{},
		Store:    newStore(t),
		Alerts:   fixedAlerts{{ID: "1", RuleName: "full-sun", SourceID: "a", State: "firing"}},
	}, api.Options{})

	var out []map[string]interface{}
	decode(t, get(t, h, "/api/v1/alerts"), &out)
	if len(out) != 1 || out[0]["rule_name"] != "full-sun" {
		t.Errorf("alerts: got %v", out)
	}
}

// --- method handling --------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{})
	cases := []struct{ method, path string }{
		{http.MethodPost, "/api/v1/sources"},
		{http.MethodDelete, "/api/v1/analysis"},
		{http.MethodPut, "/api/v1/analysis/a"},
		{http.MethodPatch, "/api/v1/status"},
		{http.MethodPost, "/api/v1/alerts"},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(c.method, c.path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", c.method, c.path, rr.Code)
		}
	}
}

// --- CORS -------------------------------------------------------------------

func TestCORS_Wildcard(t *testing.T) {
	h := api.CORS([]string{"*"}, api.New(api.Deps{Registry: registry.Static{}, Store: newStore(t)}, api.Options{}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil)
	req.Header.Set("Origin", "https://map.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin: got %q, want *", got)
	}
}

func TestCORS_AllowList(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := api.CORS([]string{"https://ok.example"}, inner)

	for origin, want := range map[string]string{
		"https://ok.example":  "https://ok.example",
		"https://bad.example": "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: got %q, want %q", origin, got, want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := api.CORS([]string{"*"}, inner)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sources", nil)
	req.Header.Set("Origin", "https://map.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "x-api-key")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", rr.Code)
	}
	if called {
		t.Error("preflight reached the inner handler")
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "x-api-key" {
		t.Errorf("Allow-Headers: got %q, want x-api-key", got)
	}
}
