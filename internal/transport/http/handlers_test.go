package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindlegarden/internal/application/auth"
	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

type stubJobs struct {
	jobs      map[string]book.Job
	cancelErr error
}

func (s *stubJobs) Job(id string) (book.Job, bool) {
	job, ok := s.jobs[id]
	return job, ok
}

func (s *stubJobs) Jobs(int64) []book.Job {
	out := make([]book.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

func (s *stubJobs) Position(string) int { return 1 }
func (s *stubJobs) QueueSize() int      { return len(s.jobs) }
func (s *stubJobs) QueueCapacity() int  { return 5 }

func (s *stubJobs) Cancel(_ context.Context, id string, _ int64) (book.Job, error) {
	if s.cancelErr != nil {
		return book.Job{}, s.cancelErr
	}
	job, ok := s.jobs[id]
	if !ok {
		return book.Job{}, conversion.ErrJobNotFound
	}
	job.State = book.StateCancelled
	delete(s.jobs, id)
	return job, nil
}

type stubPrefs struct {
	mu      sync.Mutex
	formats map[int64]book.Format
}

func (p *stubPrefs) Get(_ context.Context, userID int64) (book.Format, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.formats[userID]; ok {
		return f, nil
	}
	return book.DefaultFormat, nil
}

func (p *stubPrefs) Set(_ context.Context, userID int64, f book.Format) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formats[userID] = f
	return nil
}

type stubUpdates struct {
	got chan tg.Update
}

func (s *stubUpdates) HandleUpdate(_ context.Context, u tg.Update) {
	s.got <- u
}

type fixture struct {
	handler http.Handler
	jobs    *stubJobs
	prefs   *stubPrefs
	updates *stubUpdates
}

func newFixture(t *testing.T, token string, opts Options) *fixture {
	t.Helper()
	authService, err := auth.NewService(auth.Options{APIToken: token})
	require.NoError(t, err)

	f := &fixture{
		jobs: &stubJobs{jobs: map[string]book.Job{
			"j1": {ID: "j1", UserID: 7, FileName: "book.fb2", Format: book.FormatAZW3, State: book.StateQueued, QueuedAt: time.Unix(1700000000, 0)},
		}},
		prefs:   &stubPrefs{formats: map[int64]book.Format{}},
		updates: &stubUpdates{got: make(chan tg.Update, 1)},
	}
	if opts.Updates == nil {
		opts.Updates = f.updates
	}
	h := NewHandler(f.jobs, f.prefs, authService, opts, zerolog.Nop())
	f.handler = WithCORS(NewRouter(h), nil)
	return f
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "secret", Options{})
	rec := f.do("GET", "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(5), body["capacity"])
}

func TestHealth_ProbeFailure(t *testing.T) {
	f := newFixture(t, "", Options{Health: func(context.Context) error { return errors.New("db down") }})
	rec := f.do("GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	f := newFixture(t, "secret", Options{})

	rec := f.do("GET", "/api/queue", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do("GET", "/api/queue", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do("GET", "/api/queue", "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQueue(t *testing.T) {
	f := newFixture(t, "", Options{})
	rec := f.do("GET", "/api/queue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Size     int           `json:"size"`
		Capacity int           `json:"capacity"`
		Jobs     []jobResponse `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Size)
	assert.Equal(t, 5, body.Capacity)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "j1", body.Jobs[0].ID)
	assert.Equal(t, 1, body.Jobs[0].Position)
	assert.Equal(t, "azw3", body.Jobs[0].Format)
}

func TestGetJob(t *testing.T) {
	f := newFixture(t, "", Options{})

	rec := f.do("GET", "/api/jobs/j1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/api/jobs/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t, "", Options{})

	rec := f.do("DELETE", "/api/jobs/j1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cancelled", body.State)

	rec = f.do("DELETE", "/api/jobs/j1", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJob_Started(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.jobs.cancelErr = conversion.ErrJobStarted

	rec := f.do("DELETE", "/api/jobs/j1", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUserFormat(t *testing.T) {
	f := newFixture(t, "", Options{})

	rec := f.do("GET", "/api/users/42/format", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"azw3"`)

	rec = f.do("PUT", "/api/users/42/format", `{"format":"EPUB"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, book.FormatEPUB, f.prefs.formats[42])

	rec = f.do("PUT", "/api/users/42/format", `{"format":"pdf"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("PUT", "/api/users/42/format", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("GET", "/api/users/abc/format", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t, "", Options{WebhookSecret: "hook"})

	rec := f.do("POST", "/telegram/webhook", `{"update_id":5}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do("POST", "/telegram/webhook", `{broken`, map[string]string{secretHeader: "hook"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do("POST", "/telegram/webhook", `{"update_id":5,"message":{"message_id":1,"chat":{"id":3},"text":"/start"}}`, map[string]string{secretHeader: "hook"})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case u := <-f.updates.got:
		assert.Equal(t, int64(5), u.UpdateID)
		require.NotNil(t, u.Message)
		assert.Equal(t, "/start", u.Message.Text)
	case <-time.After(time.Second):
		t.Fatal("update was not dispatched")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "secret", Options{})
	rec := f.do("OPTIONS", "/api/queue", "", map[string]string{
		"Origin":                         "https://admin.example",
		"Access-Control-Request-Method":  "DELETE",
		"Access-Control-Request-Headers": "Authorization",
	})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
