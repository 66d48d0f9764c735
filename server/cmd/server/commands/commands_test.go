package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/microclimate/server/internal/api"
	"github.com/obsidianstack/microclimate/server/internal/auth"
	"github.com/obsidianstack/microclimate/server/internal/config"
	"github.com/obsidianstack/microclimate/server/internal/registry"
	"github.com/obsidianstack/microclimate/server/internal/store"
)

const sourcesYAML = `
- id: harbour
  name: Harbour
  latitude: 59.91
  longitude: 10.75
  fetch_url: http://cams.test/harbour.jpg
- id: park
  latitude: 1.5
  longitude: 2.5
  image_url: http://cams.test/park.jpg
`

// run executes the root command with args and returns combined output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, sourcesOutput, scoreJSON = "", "info", "table", false

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return buf.String(), err
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestRoot_ShowsHelp(t *testing.T) {
	out, err := run(t)
	assert.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "serve")
}

func TestRoot_RejectsBadLogLevel(t *testing.T) {
	p := writeTemp(t, "webcams.yaml", []byte(sourcesYAML))
	_, err := run(t, "--log-level", "chatty", "sources", "validate", p)
	assert.ErrorContains(t, err, "log-level")
}

func TestSourcesList_Table(t *testing.T) {
	p := writeTemp(t, "webcams.yaml", []byte(sourcesYAML))
	out, err := run(t, "sources", "list", p)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "harbour")
	assert.Contains(t, lines[2], "park")
	assert.Contains(t, lines[2], "http://cams.test/park.jpg")
}

func TestSourcesList_JSON(t *testing.T) {
	p := writeTemp(t, "webcams.yaml", []byte(sourcesYAML))
	out, err := run(t, "sources", "list", "-o", "json", p)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "park", got[1]["name"], "name defaults to id")
}

func TestSourcesList_UnknownFormat(t *testing.T) {
	p := writeTemp(t, "webcams.yaml", []byte(sourcesYAML))
	_, err := run(t, "sources", "list", "-o", "xml", p)
	assert.ErrorContains(t, err, "unknown output format")
}

func TestSourcesValidate(t *testing.T) {
	good := writeTemp(t, "webcams.yaml", []byte(sourcesYAML))
	out, err := run(t, "sources", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "2 sources OK")

	bad := writeTemp(t, "broken.yaml", []byte("- id: x\n  latitude: 1\n"))
	_, err = run(t, "sources", "validate", bad)
	assert.Error(t, err)
}

func TestSourcesValidate_UsesConfiguredPath(t *testing.T) {
	src := writeTemp(t, "webcams.yaml", []byte(sourcesYAML))
	t.Setenv(config.EnvSourcesPath, src)

	out, err := run(t, "sources", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, src)
}

func TestScore(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				img.SetGray(x, y, color.Gray{Y: 250})
			} else {
				img.SetGray(x, y, color.Gray{Y: 5})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := writeTemp(t, "frame.png", buf.Bytes())

	out, err := run(t, "score", p)
	require.NoError(t, err)
	assert.Contains(t, out, "score=0.5000 size=4x4")

	out, err = run(t, "score", "--json", p)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 0.5, got["score"])
	assert.Equal(t, float64(4), got["width"])
}

func TestScore_Undecodable(t *testing.T) {
	p := writeTemp(t, "junk.jpg", []byte("not an image"))
	out, err := run(t, "score", p)
	require.NoError(t, err)
	assert.Contains(t, out, "score=0.5000 size=0x0")
}

func TestScore_MissingFile(t *testing.T) {
	_, err := run(t, "score", filepath.Join(t.TempDir(), "absent.png"))
	assert.Error(t, err)
}

func TestHTTPHandler_Routes(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AllowOrigins: "*"}}
	st := store.New(store.Options{})
	t.Cleanup(func() { st.Close() })

	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := newHTTPHandler(cfg, auth.Policy{Mode: "apikey", Key: "k"},
		api.Deps{Registry: registry.Static{}, Store: st}, stream)

	cases := []struct {
		path, key string
		want      int
	}{
		{"/", "", http.StatusOK},
		{"/metrics", "", http.StatusOK},
		{"/api/v1/status", "", http.StatusUnauthorized},
		{"/api/v1/status", "k", http.StatusOK},
		{"/ws", "k", http.StatusTeapot},
		{"/nope", "k", http.StatusNotFound},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.path, nil)
		if c.key != "" {
			req.Header.Set(auth.DefaultHeader, c.key)
		}
		req.Header.Set("Origin", "https://map.example")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, c.want, rr.Code, c.path)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"), c.path)
	}
}
