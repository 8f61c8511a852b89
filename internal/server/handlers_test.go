package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbeats/vbeats-api/internal/compositor"
	"github.com/vbeats/vbeats-api/internal/job"
	"github.com/vbeats/vbeats-api/internal/session"
	"github.com/vbeats/vbeats-api/internal/storage"
	"github.com/vbeats/vbeats-api/internal/trim"
)

// fakeEngine keeps files in memory and copies the input on Run.
type fakeEngine struct {
	mu     sync.Mutex
	loaded bool
	files  map[string][]byte
	runErr error
}

func (f *fakeEngine) IsLoaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakeEngine) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = true
	return nil
}

func (f *fakeEngine) SetProgress(func(float64)) {}

func (f *fakeEngine) WriteFile(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = data
	return nil
}

func (f *fakeEngine) Run(_ context.Context, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	f.files[args[len(args)-1]] = f.files["input.mp4"]
	return nil
}

func (f *fakeEngine) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = false
	return nil
}

type fakeProber struct{}

func (fakeProber) ProbeDuration(context.Context, string) (float64, error) {
	return 20.4, nil
}

// publishingStorage is local storage with a working Publish.
type publishingStorage struct {
	*storage.LocalStorage

	mu        sync.Mutex
	published []storage.Object
}

func (s *publishingStorage) Publish(_ context.Context, obj storage.Object, data io.Reader) (string, error) {
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.published = append(s.published, obj)
	s.mu.Unlock()
	return "https://bucket.example.com/" + obj.Key + "?X-Amz-Signature=abc", nil
}

type testEnv struct {
	router  http.Handler
	manager *session.Manager
	jobs    *job.Service

	mu      sync.Mutex
	engines map[string]*fakeEngine
}

func (e *testEnv) engine(id string) *fakeEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engines[id]
}

func newTestEnv(t *testing.T, store storage.Storage, opts ...HandlerOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	jobs := job.NewService(job.NewMemoryRepository(), logger)
	env := &testEnv{jobs: jobs, engines: make(map[string]*fakeEngine)}
	manager := session.NewManager(session.Config{
		Factory: func(id string) (*compositor.Editor, *trim.Controller, error) {
			editor, err := compositor.NewEditor(compositor.DefaultSettings(), logger,
				compositor.WithClock(func() time.Time { return time.UnixMilli(1700000000000) }))
			if err != nil {
				return nil, nil, err
			}
			engine := &fakeEngine{files: make(map[string][]byte)}
			env.mu.Lock()
			env.engines[id] = engine
			env.mu.Unlock()
			ctrl := trim.NewController(id, trim.Deps{
				Engine:  engine,
				Prober:  fakeProber{},
				Storage: store,
				Jobs:    jobs,
			}, trim.WithLogger(logger))
			return editor, ctrl, nil
		},
		Jobs:    jobs,
		Storage: store,
		TTL:     time.Hour,
		Logger:  logger,
	})
	t.Cleanup(func() { _ = manager.Close(context.Background()) })

	// Run trims inline so responses are deterministic
	opts = append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	h := NewHandlers(manager, jobs, store, logger, opts...)
	env.router = NewRouter(h, logger, DefaultConfig())
	env.manager = manager
	return env
}

func newLocalStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return store
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, path, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mp4Bytes() []byte {
	head := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	return append(head, bytes.Repeat([]byte{0x02}, 512)...)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))

	rec := env.do(t, http.MethodPost, "/sessions", nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "photo", resp.Tab)
	assert.Equal(t, session.Panels{Photo: true}, resp.Panels)
	assert.Equal(t, 1, env.manager.Len())
}

func TestGetSession_NotFound(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))

	rec := env.do(t, http.MethodGet, "/sessions/nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeError(t, rec).Code)
}

func TestSwitchTab(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.do(t, http.MethodPut, "/sessions/"+id+"/tab", SwitchTabRequest{Tab: "video"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "video", resp.Tab)
	assert.Equal(t, session.Panels{Video: true}, resp.Panels)

	rec = env.do(t, http.MethodPut, "/sessions/"+id+"/tab", SwitchTabRequest{Tab: "audio"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestInvalidJSON(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/photo/layers", strings.NewReader("invalid json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
}

func TestPhotoFlow(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	base := "/sessions/" + id + "/photo"

	rec := env.upload(t, base+"/image", "beach.png", pngBytes(t, 600, 400), map[string]string{"window_width": "420"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state PhotoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.True(t, state.HasImage)
	assert.Equal(t, "beach.png", state.FileName)
	assert.Equal(t, 300, state.Width)
	assert.Equal(t, 200, state.Height)

	rec = env.do(t, http.MethodPost, base+"/layers", AddTextRequest{Text: "Hello", Size: "32", Color: "#ff0000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, base+"/click", ClickRequest{
		ClientX: 60, ClientY: 70,
		Rect: compositor.Rect{Left: 10, Top: 20, Width: 200, Height: 100},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var click ClickResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&click))
	assert.True(t, click.Moved)

	rec = env.do(t, http.MethodGet, base, nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	require.Len(t, state.Layers, 1)
	assert.InDelta(t, 0.25, state.Layers[0].X, 1e-9)
	assert.InDelta(t, 0.5, state.Layers[0].Y, 1e-9)

	rec = env.do(t, http.MethodGet, base+"/canvas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 300, 200), img.Bounds())

	rec = env.do(t, http.MethodPost, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=vbeats-photo-1700000000000.png`, rec.Header().Get("Content-Disposition"))

	rec = env.do(t, http.MethodDelete, base+"/layers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Empty(t, state.Layers)

	rec = env.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.False(t, state.HasImage)
	assert.Empty(t, state.FileName)
}

func TestAddText_NoImage(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/photo/layers", AddTextRequest{Text: "Hello"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_IMAGE", decodeError(t, rec).Code)
}

func TestAddText_Empty(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	rec := env.upload(t, "/sessions/"+id+"/photo/image", "a.png", pngBytes(t, 40, 30), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/sessions/"+id+"/photo/layers", AddTextRequest{Text: "   "})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EMPTY_TEXT", decodeError(t, rec).Code)
}

func TestSelectLayer_OutOfRange(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	index := 3

	rec := env.do(t, http.MethodPut, "/sessions/"+id+"/photo/selection", SelectLayerRequest{Index: &index})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_LAYER", decodeError(t, rec).Code)
}

func TestSetFilters(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	path := "/sessions/" + id + "/photo/filters"

	rec := env.do(t, http.MethodPut, path, map[string]float64{
		"brightness": 150, "contrast": 80, "grayscale": 100, "invert": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var state PhotoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, compositor.Filters{Brightness: 150, Contrast: 80, Grayscale: 100}, state.Filters)

	t.Run("missing field", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, path, map[string]float64{"brightness": 100})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	})

	t.Run("out of range", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, path, map[string]float64{
			"brightness": 250, "contrast": 100, "grayscale": 0, "invert": 0,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	})
}

func TestClick_NoLayers(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/photo/click", ClickRequest{ClientX: 5, ClientY: 5})

	require.Equal(t, http.StatusOK, rec.Code)
	var click ClickResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&click))
	assert.False(t, click.Moved)
}

func TestUploadImage_Rejected(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	path := "/sessions/" + id + "/photo/image"

	rec := env.upload(t, path, "notes.txt", []byte("just some text"), nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA", decodeError(t, rec).Code)

	rec = env.upload(t, path, "a.png", pngBytes(t, 10, 10), map[string]string{"window_width": "wide"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_MULTIPART", decodeError(t, rec).Code)
}

func TestUploadImage_TooLarge(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t), WithMaxUpload(1024))
	id := env.newSession(t)

	rec := env.upload(t, "/sessions/"+id+"/photo/image", "big.png", bytes.Repeat([]byte{0xff}, 4096), nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "UPLOAD_TOO_LARGE", decodeError(t, rec).Code)
}

func TestExport_NoImage(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.do(t, http.MethodPost, "/sessions/"+id+"/photo/export", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_IMAGE", decodeError(t, rec).Code)
}

func TestExport_Publish(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, newLocalStorage(t))
		id := env.newSession(t)
		require.Equal(t, http.StatusOK, env.upload(t, "/sessions/"+id+"/photo/image", "a.png", pngBytes(t, 40, 30), nil).Code)

		rec := env.do(t, http.MethodPost, "/sessions/"+id+"/photo/export?publish=true", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "PUBLISH_UNAVAILABLE", decodeError(t, rec).Code)
	})

	t.Run("published", func(t *testing.T) {
		store := &publishingStorage{LocalStorage: newLocalStorage(t)}
		env := newTestEnv(t, store)
		id := env.newSession(t)
		require.Equal(t, http.StatusOK, env.upload(t, "/sessions/"+id+"/photo/image", "a.png", pngBytes(t, 40, 30), nil).Code)

		rec := env.do(t, http.MethodPost, "/sessions/"+id+"/photo/export?publish=true", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp PublishResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "vbeats-photo-1700000000000.png", resp.Filename)
		assert.Contains(t, resp.URL, "X-Amz-Signature")
		require.Len(t, store.published, 1)
		assert.Equal(t, "image/png", store.published[0].ContentType)
	})
}

func TestVideoFlow(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	base := "/sessions/" + id + "/video"

	rec := env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status VideoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "FFmpeg: not loaded", status.EngineStatus)

	rec = env.do(t, http.MethodPost, base+"/engine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "FFmpeg: ready", status.EngineStatus)

	rec = env.do(t, http.MethodPost, base+"/trim", TrimRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_FILE", decodeError(t, rec).Code)

	rec = env.upload(t, base+"/file", "holiday.mp4", mp4Bytes(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "holiday.mp4", status.FileName)
	require.NotNil(t, status.DefaultEnd)
	assert.Equal(t, 20.0, *status.DefaultEnd)

	rec = env.do(t, http.MethodPost, base+"/trim", TrimRequest{Start: "8", End: "3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_RANGE", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, base+"/trim", TrimRequest{Start: "2", End: "6"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var trimResp TrimResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trimResp))
	assert.NotEmpty(t, trimResp.JobID)
	assert.Equal(t, "COMPLETED", trimResp.Status)

	rec = env.do(t, http.MethodGet, base+"/jobs/"+trimResp.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobResp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobResp))
	assert.Equal(t, "COMPLETED", jobResp.Status)
	assert.Equal(t, 100, jobResp.Progress)
	assert.Equal(t, 2.0, jobResp.Start)
	assert.Equal(t, 6.0, jobResp.End)
	assert.Equal(t, base+"/jobs/"+trimResp.JobID+"/download", jobResp.DownloadURL)
	assert.Empty(t, jobResp.URL)

	rec = env.do(t, http.MethodGet, jobResp.DownloadURL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, mp4Bytes(), rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, base+"/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, trimResp.JobID, list[0].ID)

	rec = env.do(t, http.MethodGet, base, nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.False(t, status.Trimming)
	assert.Equal(t, trim.MessageDone, status.Message)
	assert.Equal(t, trimResp.JobID, status.LastJobID)
}

func TestUploadVideo_Rejected(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.upload(t, "/sessions/"+id+"/video/file", "photo.png", pngBytes(t, 10, 10), nil)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA", decodeError(t, rec).Code)
}

func TestGetJob_OtherSession(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	owner := env.newSession(t)
	other := env.newSession(t)

	j, err := env.jobs.CreateJob(context.Background(), job.CreateInput{SessionID: owner, Start: 0, End: 5})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/sessions/"+other+"/video/jobs/"+j.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodGet, "/sessions/"+owner+"/video/jobs/"+j.ID+"/download", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_NOT_COMPLETED", decodeError(t, rec).Code)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.manager.Len())

	rec = env.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", decodeError(t, rec).Code)
}

func TestDeleteSession_TrimInProgress(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)

	rec := env.upload(t, "/sessions/"+id+"/video/file", "clip.mp4", mp4Bytes(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s, err := env.manager.Get(id)
	require.NoError(t, err)
	j, err := s.Video.Submit(context.Background(), trim.TrimInput{Start: "1", End: "2"})
	require.NoError(t, err)

	rec = env.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TRIM_IN_PROGRESS", decodeError(t, rec).Code)
	assert.Equal(t, 1, env.manager.Len())

	require.NoError(t, s.Video.Process(context.Background(), j.ID))

	rec = env.do(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	jobs, err := env.jobs.ListJobs(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGetJob_FailureHidesEngineOutput(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	id := env.newSession(t)
	base := "/sessions/" + id + "/video"

	rec := env.upload(t, base+"/file", "clip.mp4", mp4Bytes(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.engine(id).runErr = errors.New("ffmpeg error: exit status 1\nstderr: /tmp/vbeats/engine-1/input.mp4: Invalid data found")

	rec = env.do(t, http.MethodPost, base+"/trim", TrimRequest{Start: "0", End: "3"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var trimResp TrimResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trimResp))
	assert.Equal(t, "FAILED", trimResp.Status)

	rec = env.do(t, http.MethodGet, base+"/jobs/"+trimResp.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobResp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobResp))
	assert.Equal(t, trim.MessageFailed, jobResp.Error)
	assert.NotContains(t, rec.Body.String(), "/tmp/vbeats")
	assert.NotContains(t, rec.Body.String(), "stderr")
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))

	rec := env.do(t, http.MethodGet, "/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))

	rec := env.do(t, http.MethodGet, "/health", nil)

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t, newLocalStorage(t))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h := NewHandlers(env.manager, env.jobs, newLocalStorage(t), logger)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, logger, cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Preflight for the trim endpoint
	req = httptest.NewRequest(http.MethodOptions, "/sessions/abc/video/trim", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestLoggingMiddleware_SessionAndSize(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(LoggingMiddleware(logger))
	r.Get("/sessions/{id}/photo/canvas", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 2048))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s-42/photo/canvas", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "s-42", entry["session_id"])
	assert.Equal(t, "2.0 kB", entry["size"])
	assert.EqualValues(t, 200, entry["status"])
}

func TestRecoveryMiddleware_AfterResponseStarted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("stream broke")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(logger)(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestErrorResponse_Unknown(t *testing.T) {
	status, code, msg := errorResponse(io.ErrUnexpectedEOF)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
	assert.Equal(t, "internal server error", msg)
}
