package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadvision/internal/geometry"
	"roadvision/internal/pipeline"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:8081", cfg.DetectorURL)
	assert.Equal(t, 5*time.Second, cfg.ServiceTimeout)
	assert.Equal(t, geometry.DefaultROI, cfg.Fusion.ROI)
	assert.Equal(t, 640, cfg.Fusion.Width)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "roadvision.json", `{
		"confidence": 0.5,
		"lane_detection": false,
		"classes": ["car"],
		"roi": [[0.1, 0.2], [0.9, 0.2], [1.0, 0.8], [0.0, 0.8]],
		"detector_url": "http://detector:9000",
		"service_timeout": "750ms",
		"fps": 15
	}`)

	o, err := LoadFile(path)
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, o.Apply(cfg))

	assert.InDelta(t, 0.5, cfg.Fusion.Confidence, 1e-6)
	assert.False(t, cfg.Fusion.LaneDetection)
	assert.True(t, cfg.Fusion.ObjectDetection)
	assert.Equal(t, []string{"car"}, cfg.Fusion.Classes)
	assert.Equal(t, geometry.Point{X: 0.9, Y: 0.2}, cfg.Fusion.ROI[1])
	assert.Equal(t, "http://detector:9000", cfg.DetectorURL)
	assert.Equal(t, "http://localhost:8082", cfg.LaneURL)
	assert.Equal(t, 750*time.Millisecond, cfg.ServiceTimeout)
	assert.Equal(t, 15, cfg.FPS)
}

func TestLoadFileRejects(t *testing.T) {
	t.Run("extension", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "roadvision.yaml", "{}"))
		assert.ErrorContains(t, err, ".json extension")
	})
	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("too large", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "big.json", strings.Repeat(" ", maxFileSize+1)))
		assert.ErrorContains(t, err, "too large")
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "bad.json", "{"))
		assert.ErrorContains(t, err, "failed to parse")
	})
}

func TestApplyRejectsInvalidValues(t *testing.T) {
	bad := "soon"
	o := &Overrides{ServiceTimeout: &bad}
	assert.Error(t, o.Apply(Default()))

	o = &Overrides{}
	o.ROI = [][2]float64{{0, 0}, {1, 0}}
	assert.Error(t, o.Apply(Default()))
}

func TestFromEnv(t *testing.T) {
	o, err := FromEnv(envMap(map[string]string{
		"ROADVISION_CONFIDENCE":       "0.35",
		"ROADVISION_SHOW_VISUALS":     "false",
		"ROADVISION_CLASSES":          "car, truck,,bus",
		"ROADVISION_ERROR_POLICY":     "halt",
		"ROADVISION_CACHE_SIZE":       "9",
		"ROADVISION_ANCHOR_ROI_EDGES": "true",
		"ROADVISION_LANE_URL":         "http://lanes:7000",
		"ROADVISION_DEBUG":            "1",
		"ROADVISION_DB_PATH":          "",
		"OTHER_VAR":                   "ignored",
	}))
	require.NoError(t, err)

	cfg := Default()
	require.NoError(t, o.Apply(cfg))

	assert.InDelta(t, 0.35, cfg.Fusion.Confidence, 1e-6)
	assert.False(t, cfg.Fusion.ShowVisuals)
	assert.Equal(t, []string{"car", "truck", "bus"}, cfg.Fusion.Classes)
	assert.Equal(t, pipeline.ErrorPolicyHalt, cfg.Fusion.ErrorPolicy)
	assert.Equal(t, 9, cfg.Fusion.CacheSize)
	assert.True(t, cfg.Fusion.AnchorROIEdges)
	assert.Equal(t, "http://lanes:7000", cfg.LaneURL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "roadvision.db", cfg.DBPath, "empty values inherit")
}

func TestFromEnvInvalid(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"ROADVISION_WIDTH": "wide",
		"ROADVISION_FPS":   "fast",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROADVISION_WIDTH")
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "roadvision.json", `{"cache_size": 7, "http_addr": ":7070"}`)

	cfg, err := Load(Options{
		File:    path,
		Environ: envMap(map[string]string{"ROADVISION_CACHE_SIZE": "3"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fusion.CacheSize, "environment wins over file")
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "ROADVISION_TEST_DOTENV_KEY"
	path := writeFile(t, ".env", key+"=from-file\n")
	t.Cleanup(func() { os.Unsetenv(key) })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv(key))

	t.Setenv(key, "from-env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv(key), "existing variables are not overridden")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DetectorURL = ""
	assert.Error(t, cfg.Validate())

	cfg.Fusion.ObjectDetection = false
	assert.NoError(t, cfg.Validate())

	cfg.FPS = -1
	assert.Error(t, cfg.Validate())
}
