// File: internal/server/server_test.go
package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/petitionfetch/internal/blocker"
	"github.com/xkilldash9x/petitionfetch/internal/config"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
	"github.com/xkilldash9x/petitionfetch/internal/store"
)

var pdfBytes = []byte("%PDF-1.7\nvoluntary petition\n%%EOF")

type fakeRetriever struct {
	dir     string
	failure *retrieval.Error
	block   chan struct{}

	mu    sync.Mutex
	calls []string
	creds []retrieval.Credential
}

func (f *fakeRetriever) Retrieve(ctx context.Context, caseNumber string, cred retrieval.Credential) retrieval.Result {
	f.mu.Lock()
	f.calls = append(f.calls, caseNumber)
	f.creds = append(f.creds, cred)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	res := retrieval.Result{ID: "rid-" + caseNumber, CaseNumber: caseNumber, StartedAt: time.Now(), FinishedAt: time.Now()}
	if f.failure != nil {
		res.Failure = f.failure
		return res
	}
	path := filepath.Join(f.dir, retrieval.OutputFilename(caseNumber))
	if err := os.WriteFile(path, pdfBytes, 0o644); err != nil {
		res.Failure = &retrieval.Error{Kind: retrieval.KindDownload, Message: err.Error()}
		return res
	}
	res.FilePath = path
	res.Reached = retrieval.StateDownloaded
	return res
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []retrieval.Result
}

func (r *fakeRecorder) Save(_ context.Context, res retrieval.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, res)
	return nil
}

func (r *fakeRecorder) Recent(_ context.Context, limit int) ([]store.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []store.Record{}
	for i := len(r.saved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, store.FromResult(r.saved[i]))
	}
	return out, nil
}

var testCred = retrieval.Credential{Username: "clerk@example.com", Password: "hunter2"}

func newTestServer(t *testing.T, r Retriever, rec Recorder, mutate func(*config.ServerConfig)) *Server {
	cfg := config.NewDefaultConfig().Server
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, r, testCred, rec, zaptest.NewLogger(t))
}

func postCapture(h http.Handler, field, value string) *httptest.ResponseRecorder {
	form := url.Values{field: {value}}
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeRetriever{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCaptureStreamsPDF(t *testing.T) {
	for _, field := range []string{"case_number", "caseNumber"} {
		t.Run(field, func(t *testing.T) {
			fr := &fakeRetriever{dir: t.TempDir()}
			recorder := &fakeRecorder{}
			h := newTestServer(t, fr, recorder, nil).Routes()

			rec := postCapture(h, field, "1:25-bk-12345")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="Voluntary_Petition_1:25-bk-12345.pdf"`, rec.Header().Get("Content-Disposition"))
			assert.Equal(t, pdfBytes, rec.Body.Bytes())

			assert.Equal(t, []string{"1:25-bk-12345"}, fr.calls)
			assert.Equal(t, testCred, fr.creds[0], "credentials come from configuration, not the request")
			require.Len(t, recorder.saved, 1)
			assert.True(t, recorder.saved[0].OK())
		})
	}
}

func TestCaptureRejectsInvalidCaseNumber(t *testing.T) {
	fr := &fakeRetriever{dir: t.TempDir()}
	h := newTestServer(t, fr, nil, nil).Routes()

	for _, bad := range []string{"", "../etc", "12 34"} {
		rec := postCapture(h, "case_number", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Contains(t, rec.Body.String(), `"invalid_input_error"`)
	}
	assert.Empty(t, fr.calls)
}

func TestCaptureFailureMapping(t *testing.T) {
	tests := []struct {
		name    string
		failure *retrieval.Error
		status  int
		fields  []string
	}{
		{
			name:    "blocked",
			failure: &retrieval.Error{Kind: retrieval.KindBlocked, Message: "page is gated", Blocker: blocker.MFAChallenge, Step: retrieval.StateCaseOpened},
			status:  http.StatusBadGateway,
			fields:  []string{`"blocked_error"`, `"mfa_challenge"`, `"case_opened"`},
		},
		{
			name:    "layout",
			failure: &retrieval.Error{Kind: retrieval.KindLayoutChanged, Message: "row not found"},
			status:  http.StatusBadGateway,
			fields:  []string{`"layout_changed_error"`},
		},
		{
			name:    "interaction",
			failure: &retrieval.Error{Kind: retrieval.KindInteraction, Message: "click failed"},
			status:  http.StatusInternalServerError,
			fields:  []string{`"interaction_error"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeRetriever{failure: tt.failure}, nil, nil).Routes()
			rec := postCapture(h, "case_number", "7")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			for _, f := range tt.fields {
				assert.Contains(t, rec.Body.String(), f)
			}
			assert.Contains(t, rec.Body.String(), `"retrieval_id":"rid-7"`)
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[retrieval.Kind]int{
		retrieval.KindInvalidInput:  http.StatusBadRequest,
		retrieval.KindInteraction:   http.StatusInternalServerError,
		retrieval.KindAuth:          http.StatusBadGateway,
		retrieval.KindNavigation:    http.StatusBadGateway,
		retrieval.KindBlocked:       http.StatusBadGateway,
		retrieval.KindLayoutChanged: http.StatusBadGateway,
		retrieval.KindDownload:      http.StatusBadGateway,
		"internal_error":            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, &fakeRetriever{dir: t.TempDir()}, nil, func(c *config.ServerConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	}).Routes()

	assert.Equal(t, http.StatusOK, postCapture(h, "case_number", "1").Code)
	rec := postCapture(h, "case_number", "2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestSessionBound(t *testing.T) {
	fr := &fakeRetriever{dir: t.TempDir(), block: make(chan struct{})}
	h := newTestServer(t, fr, nil, func(c *config.ServerConfig) { c.MaxSessions = 1 }).Routes()

	first := make(chan int)
	go func() { first <- postCapture(h, "case_number", "1").Code }()

	require.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The only slot is held, so a second request gives up when its context does.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	form := url.Values{"case_number": {"2"}}
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(form.Encode())).WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(fr.block)
	assert.Equal(t, http.StatusOK, <-first)
	assert.Len(t, fr.calls, 1)
}

func TestRecent(t *testing.T) {
	t.Run("without a database", func(t *testing.T) {
		h := newTestServer(t, &fakeRetriever{}, nil, nil).Routes()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retrievals", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("lists recorded outcomes", func(t *testing.T) {
		recorder := &fakeRecorder{}
		h := newTestServer(t, &fakeRetriever{dir: t.TempDir()}, recorder, nil).Routes()
		postCapture(h, "case_number", "5")
		postCapture(h, "case_number", "6")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retrievals?limit=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var records []store.Record
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
		require.Len(t, records, 1)
		assert.Equal(t, "6", records[0].CaseNumber)
		assert.Equal(t, store.StatusSucceeded, records[0].Status)
	})

	t.Run("bad limit", func(t *testing.T) {
		h := newTestServer(t, &fakeRetriever{}, &fakeRecorder{}, nil).Routes()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/retrievals?limit=abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
