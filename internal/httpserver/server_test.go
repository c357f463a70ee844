package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"

	"github.com/cylonrun/cylon/internal/config"
	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// stubCore implements Core for unit tests, returning pre-configured results
// or errors without touching a real serving core.
type stubCore struct {
	runReply   rpc.InferenceRunReply
	runErr     error
	status     rpc.Status
	statusErr  error
	result     *rpc.Message
	resultErr  error
	lastRunReq rpc.InferenceRunRequest
}

func (s *stubCore) Run(ctx context.Context, request rpc.InferenceRunRequest) (rpc.InferenceRunReply, error) {
	s.lastRunReq = request
	return s.runReply, s.runErr
}

func (s *stubCore) Status(jobID string) (rpc.Status, error) {
	return s.status, s.statusErr
}

func (s *stubCore) Result(jobID string) (*rpc.Message, error) {
	return s.result, s.resultErr
}

// minimalConfig returns a *config.Config that satisfies the Server
// constructor without requiring a real file on disk.
func minimalConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddress:          "127.0.0.1",
			ListenPort:             0,
			ReadTimeoutSeconds:     5,
			WriteTimeoutSeconds:    5,
			IdleTimeoutSeconds:     30,
			ShutdownTimeoutSeconds: 5,
		},
		Model: config.ModelConfig{
			Family: "llama",
		},
	}
}

// newTestServer builds a Server wired to core and returns it so tests can
// drive its internal http.Handler directly with httptest.NewRecorder.
func newTestServer(t *testing.T, core Core) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	return New(minimalConfig(), core, logger)
}

// doRequest fires req against srv's mux via an httptest.ResponseRecorder and
// returns the recorder.
func doRequest(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rr, req)
	return rr
}

func postRun(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/inference/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response JSON: %v\nbody: %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// POST /v1/inference/run tests
// ---------------------------------------------------------------------------

func TestHandleInferenceRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		core          *stubCore
		body          string
		wantStatus    int
		checkResponse func(t *testing.T, rr *httptest.ResponseRecorder)
	}{
		{
			name: "success returns 200 with OK status and response",
			core: &stubCore{
				runReply: rpc.InferenceRunReply{
					Response: &rpc.Message{Role: "assistant", Content: "hello"},
					Status:   rpc.StatusOK,
					UUID:     "abc",
				},
			},
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusOK,
			checkResponse: func(t *testing.T, rr *httptest.ResponseRecorder) {
				t.Helper()
				var resp rpc.InferenceRunReply
				decodeJSON(t, rr, &resp)
				if resp.Status != rpc.StatusOK {
					t.Errorf("status: got %q, want OK", resp.Status)
				}
				if resp.Response == nil || resp.Response.Content != "hello" {
					t.Errorf("response: got %+v, want content=hello", resp.Response)
				}
			},
		},
		{
			name:       "empty messages returns 400",
			core:       &stubCore{},
			body:       `{"messages":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid JSON returns 400",
			core:       &stubCore{},
			body:       `{bad json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "queue full surfaces as 500",
			core: &stubCore{
				runErr: servingerrors.Wrap(servingerrors.ErrQueueFull, nil),
			},
			body:       `{"messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusInternalServerError,
			checkResponse: func(t *testing.T, rr *httptest.ResponseRecorder) {
				t.Helper()
				var resp errorResponse
				decodeJSON(t, rr, &resp)
				if resp.Error.Code != servingerrors.ErrQueueFull.Code {
					t.Errorf("error.code: got %q, want %q", resp.Error.Code, servingerrors.ErrQueueFull.Code)
				}
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, tc.core)
			req := postRun(t, tc.body)
			rr := doRequest(t, srv, req)

			if rr.Code != tc.wantStatus {
				t.Errorf("status: got %d, want %d\nbody: %s", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if tc.checkResponse != nil {
				tc.checkResponse(t, rr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GET /v1/inference/{uuid}/status and /result tests
// ---------------------------------------------------------------------------

func TestHandleInferenceStatus(t *testing.T) {
	t.Parallel()

	t.Run("known job returns its status", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &stubCore{status: rpc.StatusQueued})
		req := httptest.NewRequest(http.MethodGet, "/v1/inference/job-1/status", nil)
		rr := doRequest(t, srv, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", rr.Code)
		}
		var resp inferenceStatusResponse
		decodeJSON(t, rr, &resp)
		if resp.Status != rpc.StatusQueued {
			t.Errorf("status: got %q, want QUEUED", resp.Status)
		}
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &stubCore{statusErr: servingerrors.ErrNotFound})
		req := httptest.NewRequest(http.MethodGet, "/v1/inference/deadbeef/status", nil)
		rr := doRequest(t, srv, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("status: got %d, want 404", rr.Code)
		}
	})
}

func TestHandleInferenceResult(t *testing.T) {
	t.Parallel()

	t.Run("known job returns its response", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &stubCore{result: &rpc.Message{Role: "assistant", Content: "done"}})
		req := httptest.NewRequest(http.MethodGet, "/v1/inference/job-1/result", nil)
		rr := doRequest(t, srv, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200", rr.Code)
		}
		var resp inferenceResultResponse
		decodeJSON(t, rr, &resp)
		if resp.Response == nil || resp.Response.Content != "done" {
			t.Errorf("response: got %+v, want content=done", resp.Response)
		}
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &stubCore{resultErr: servingerrors.ErrNotFound})
		req := httptest.NewRequest(http.MethodGet, "/v1/inference/deadbeef/result", nil)
		rr := doRequest(t, srv, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("status: got %d, want 404", rr.Code)
		}
	})
}

// ---------------------------------------------------------------------------
// GET /health tests
// ---------------------------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubCore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := doRequest(t, srv, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	decodeJSON(t, rr, &body)

	if got := body["status"]; got != "ok" {
		t.Errorf("status field: got %q, want %q", got, "ok")
	}
}

// ---------------------------------------------------------------------------
// classifyError unit tests
// ---------------------------------------------------------------------------

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ErrNotFound", servingerrors.ErrNotFound, http.StatusNotFound},
		{"ErrQueueFull", servingerrors.ErrQueueFull, http.StatusInternalServerError},
		{"ErrGenerationFailed", servingerrors.ErrGenerationFailed, http.StatusInternalServerError},
		{"wrapped ErrNotFound", servingerrors.Wrap(servingerrors.ErrNotFound, nil), http.StatusNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gotStatus, _ := classifyError(tc.err)
			if gotStatus != tc.wantStatus {
				t.Errorf("status: got %d, want %d", gotStatus, tc.wantStatus)
			}
		})
	}
}
