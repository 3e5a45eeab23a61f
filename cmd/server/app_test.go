package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/cutout/internal/config"
	"github.com/phrazzld/cutout/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryConfig returns a valid configuration with every backend in memory.
func memoryConfig(mode string) *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080, LogLevel: "info", Mode: mode, ShutdownTimeout: 2 * time.Second},
		Database:  config.DatabaseConfig{MaxOpenConns: 1},
		TaskStore: config.TaskStoreConfig{Backend: "memory"},
		Queue:     config.QueueConfig{Backend: "memory", Size: 16, PollInterval: time.Millisecond, VisibilityTimeout: time.Minute},
		Worker:    config.WorkerConfig{Count: 2, HardTimeLimit: 5 * time.Second, SoftTimeLimit: 4 * time.Second},
		Retry:     config.RetryConfig{MaxRetries: 1, Delay: 10 * time.Millisecond, Backoff: "fixed"},
		Artifacts: config.ArtifactsConfig{Backend: "memory"},
		Transform: config.TransformConfig{Backend: "local", Tolerance: 48},
		Upload:    config.UploadConfig{MaxBytes: 1 << 20},
		Sweeper:   config.SweeperConfig{Enabled: false, Interval: time.Minute, MaxAge: time.Hour},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	require.NoError(t, config.Validate(cfg))
	app, err := newApplication(context.Background(), cfg, testLogger(), nil)
	require.NoError(t, err)
	return app
}

// subjectPNG is a white 8x8 image with a red square in the middle.
func subjectPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 3 && x <= 4 && y >= 3 && y <= 4 {
				c = color.NRGBA{R: 200, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func submitRequest(t *testing.T, taskID string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("task_id", taskID))
	part, err := mw.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNewApplication_Modes(t *testing.T) {
	tests := []struct {
		mode        string
		wantWorkers bool
	}{
		{"all", true},
		{"api", false},
		{"worker", true},
	}

	for _, tc := range tests {
		t.Run(tc.mode, func(t *testing.T) {
			app := newTestApp(t, memoryConfig(tc.mode))
			assert.Equal(t, tc.wantWorkers, app.workerPool != nil)
			assert.Equal(t, tc.wantWorkers, app.transformer != nil)
			assert.Nil(t, app.sweepScheduler, "sweeper is disabled")
			assert.NotNil(t, app.taskService)
		})
	}
}

func TestNewApplication_SweeperEnabled(t *testing.T) {
	cfg := memoryConfig("all")
	cfg.Sweeper.Enabled = true

	app := newTestApp(t, cfg)
	assert.NotNil(t, app.sweepScheduler)

	cfg = memoryConfig("api")
	cfg.Sweeper.Enabled = true
	app = newTestApp(t, cfg)
	assert.Nil(t, app.sweepScheduler, "api-only processes do not sweep")
}

func TestNewApplication_PostgresWithoutDatabase(t *testing.T) {
	cfg := memoryConfig("all")
	cfg.TaskStore.Backend = "postgres"

	_, err := newApplication(context.Background(), cfg, testLogger(), nil)
	assert.Error(t, err)
}

func TestRouter_Health(t *testing.T) {
	for _, mode := range []string{"all", "api", "worker"} {
		t.Run(mode, func(t *testing.T) {
			app := newTestApp(t, memoryConfig(mode))
			w := httptest.NewRecorder()
			app.setupRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"status":"OK"}`, w.Body.String())
		})
	}
}

func TestRouter_WorkerModeHasNoAPI(t *testing.T) {
	app := newTestApp(t, memoryConfig("worker"))

	w := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/t1", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AuthEnabled(t *testing.T) {
	cfg := memoryConfig("api")
	cfg.Auth.JWTSecret = "thisisasecretkeythatis32charslong!!"
	app := newTestApp(t, cfg)
	router := app.setupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/t1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health stays public")
}

func TestApplication_SubmitProcessAndFetch(t *testing.T) {
	app := newTestApp(t, memoryConfig("all"))
	app.startBackground()
	t.Cleanup(app.cleanup)
	router := app.setupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, submitRequest(t, "t1", subjectPNG(t)))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var view service.StatusView
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/t1", nil))
		if w.Code != http.StatusOK {
			return false
		}
		view = service.StatusView{}
		return json.Unmarshal(w.Body.Bytes(), &view) == nil && view.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "completed", string(view.Status))
	require.NotNil(t, view.ResultLocator)
	assert.Equal(t, "processed/t1.png", *view.ResultLocator)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/t1/result", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	out, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	_, _, _, cornerAlpha := out.At(0, 0).RGBA()
	_, _, _, centerAlpha := out.At(3, 3).RGBA()
	assert.Zero(t, cornerAlpha, "background is transparent")
	assert.NotZero(t, centerAlpha, "subject is kept")
}

func TestApplication_CountsUnsuccessfulDeliveries(t *testing.T) {
	app := newTestApp(t, memoryConfig("all"))
	app.startBackground()
	t.Cleanup(app.cleanup)
	router := app.setupRouter()

	// A PNG signature passes upload sniffing but cannot be decoded.
	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, submitRequest(t, "broken", corrupt))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// MaxRetries is 1: one retry, then a terminal failure.
	require.Eventually(t, func() bool {
		return app.failedDeliveries.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), app.retriedDeliveries.Load())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/broken", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var view service.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "failed", string(view.Status))
}

func TestServe_GracefulShutdown(t *testing.T) {
	app := newTestApp(t, memoryConfig("api"))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, listener, app.setupRouter()) }()

	url := "http://" + listener.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestLoadAppConfig(t *testing.T) {
	t.Setenv("CUTOUT_TASK_STORE_BACKEND", "memory")
	t.Setenv("CUTOUT_QUEUE_BACKEND", "memory")

	cfg, err := loadAppConfig("", "worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Server.Mode)

	cfg, err = loadAppConfig("", "")
	require.NoError(t, err)
	assert.Equal(t, "all", cfg.Server.Mode)

	_, err = loadAppConfig("", "bogus")
	assert.Error(t, err)
}

func TestUsesDatabase(t *testing.T) {
	cfg := memoryConfig("all")
	assert.False(t, usesDatabase(cfg))

	cfg.Queue.Backend = "postgres"
	assert.True(t, usesDatabase(cfg))
}
