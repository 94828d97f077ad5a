package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/agent"
	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/internal/repository"
	"github.com/seweryn-pilarska/email-reply/internal/service/reply"
	"github.com/seweryn-pilarska/email-reply/pkg/outbox"
	"github.com/seweryn-pilarska/email-reply/pkg/rbac"
	"github.com/seweryn-pilarska/email-reply/pkg/trace"
	"github.com/seweryn-pilarska/email-reply/pkg/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeReplyService struct {
	reply    string
	err      error
	async    bool
	calls    []reply.Request
	enqueued []string
	traceIDs []string
}

func (f *fakeReplyService) Reply(ctx context.Context, req reply.Request) (*reply.Result, error) {
	f.calls = append(f.calls, req)
	f.traceIDs = append(f.traceIDs, trace.FromContext(ctx))
	if f.err != nil {
		return &reply.Result{}, f.err
	}
	return &reply.Result{Reply: f.reply}, nil
}

func (f *fakeReplyService) Enqueue(_ context.Context, email, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, email)
	return "req-123", nil
}

func (f *fakeReplyService) AsyncEnabled() bool { return f.async }

type fakeReplayer struct {
	replayed []int64
	err      error
}

func (f *fakeReplayer) ReplayEvent(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(_ context.Context, limit int) (int, error) {
	return 2, f.err
}

func (f *fakeReplayer) ListFailedEvents(_ context.Context, _ int) ([]*outbox.Event, error) {
	return []*outbox.Event{{ID: 7, RoutingKey: "email.reply.generated", Status: outbox.StatusFailed}}, f.err
}

type fakeRuns struct{}

func (fakeRuns) ListRecent(_ context.Context, _ int) ([]*model.WorkflowRun, error) {
	return []*model.WorkflowRun{{RunID: "run-1", Status: model.RunStatusSucceeded}}, nil
}

func (fakeRuns) FindByID(_ context.Context, runID string) (*model.WorkflowRun, error) {
	switch runID {
	case "run-1":
		return &model.WorkflowRun{RunID: "run-1", RequestID: "req-1", Status: model.RunStatusSucceeded}, nil
	case "run-broken":
		return nil, errors.New("connection reset")
	}
	return nil, repository.ErrRunNotFound
}

func newTestRouter(svc *fakeReplyService, opts Options) *gin.Engine {
	admin := NewAdminHandler(&fakeReplayer{}, fakeRuns{}, zap.NewNop())
	return NewRouter(NewChatHandler(svc, zap.NewNop()), admin, opts).Engine
}

func do(t *testing.T, r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestChat_Success(t *testing.T) {
	svc := &fakeReplyService{reply: "Thanks for reaching out."}
	r := newTestRouter(svc, Options{})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello there"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Thanks for reaching out.", decode(t, w)["response"])
	require.Len(t, svc.calls, 1)
	assert.Equal(t, reply.Request{Source: reply.SourceHTTP, Email: "Hello there"}, svc.calls[0])
}

func TestChat_MissingMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"empty object", `{}`},
		{"null", `{"human_message":null}`},
		{"blank", `{"human_message":"   "}`},
		{"not a string", `{"human_message":42}`},
		{"invalid json", `{"human_message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeReplyService{reply: "x"}
			r := newTestRouter(svc, Options{})

			w := do(t, r, http.MethodPost, "/api/chat", tt.body, nil)

			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Human message is required", decode(t, w)["error"])
			assert.Empty(t, svc.calls)
		})
	}
}

func TestChat_WorkflowFailure(t *testing.T) {
	svc := &fakeReplyService{err: &agent.StageError{Stage: model.StageClassified, Kind: agent.ErrClassification, Err: errors.New("401")}}
	r := newTestRouter(svc, Options{})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to generate reply", decode(t, w)["error"])
}

func TestChat_EmptyReplyIsFailure(t *testing.T) {
	r := newTestRouter(&fakeReplyService{reply: ""}, Options{})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTraceHeaderPropagation(t *testing.T) {
	svc := &fakeReplyService{reply: "ok"}
	r := newTestRouter(svc, Options{})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, map[string]string{"X-Trace-ID": "abc123"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", w.Header().Get("X-Trace-ID"))
	assert.Equal(t, []string{"abc123"}, svc.traceIDs)

	w = do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestChatAsync(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r := newTestRouter(&fakeReplyService{}, Options{})
		w := do(t, r, http.MethodPost, "/api/chat/async", `{"human_message":"Hello"}`, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("missing message", func(t *testing.T) {
		svc := &fakeReplyService{async: true}
		r := newTestRouter(svc, Options{})
		w := do(t, r, http.MethodPost, "/api/chat/async", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, svc.enqueued)
	})

	t.Run("accepted", func(t *testing.T) {
		svc := &fakeReplyService{async: true}
		r := newTestRouter(svc, Options{})
		w := do(t, r, http.MethodPost, "/api/chat/async", `{"human_message":"Can we meet?"}`, nil)

		require.Equal(t, http.StatusAccepted, w.Code)
		body := decode(t, w)
		assert.Equal(t, "req-123", body["request_id"])
		assert.Equal(t, []string{"Can we meet?"}, svc.enqueued)
		assert.Empty(t, svc.calls)
	})

	t.Run("publish failure", func(t *testing.T) {
		svc := &fakeReplyService{async: true, err: errors.New("broker down")}
		r := newTestRouter(svc, Options{})
		w := do(t, r, http.MethodPost, "/api/chat/async", `{"human_message":"Hello"}`, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAuth(t *testing.T) {
	const secret = "test-secret"
	svc := &fakeReplyService{reply: "ok"}
	r := newTestRouter(svc, Options{JWTSecret: secret})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`,
		map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, svc.calls)

	token, err := util.GenerateJWT("frontend", secret, time.Hour)
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)

	// 未知角色没有 reply:create 权限
	guest, err := util.GenerateJWTWithRole("guest", "guest", secret, time.Hour)
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`,
		map[string]string{"Authorization": "Bearer " + guest})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, svc.calls, 1)
}

func TestRateLimit(t *testing.T) {
	svc := &fakeReplyService{reply: "ok"}
	r := newTestRouter(svc, Options{RateLimiter: util.NewLocalRateLimiter(1, time.Minute)})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Len(t, svc.calls, 1)

	// 健康检查不受限流影响
	w = do(t, r, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (erroringLimiter) Backend() string                             { return "redis" }

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newTestRouter(&fakeReplyService{reply: "ok"}, Options{RateLimiter: erroringLimiter{}})

	w := do(t, r, http.MethodPost, "/api/chat", `{"human_message":"Hello"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	r := newTestRouter(&fakeReplyService{}, Options{})

	w := do(t, r, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])

	w = do(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz_FailingCheck(t *testing.T) {
	r := newTestRouter(&fakeReplyService{}, Options{Ready: []ReadinessCheck{
		{Name: "db", Check: func(context.Context) error { return nil }},
		{Name: "mq", Check: func(context.Context) error { return errors.New("closed") }},
	}})

	w := do(t, r, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "mq_not_ready", decode(t, w)["status"])
}

func TestAdmin(t *testing.T) {
	const secret = "admin-secret"
	token, err := util.GenerateJWTWithRole("ops", rbac.RoleAdmin, secret, time.Hour)
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	clientToken, err := util.GenerateJWT("frontend", secret, time.Hour)
	require.NoError(t, err)
	clientAuth := map[string]string{"Authorization": "Bearer " + clientToken}

	replayer := &fakeReplayer{}
	admin := NewAdminHandler(replayer, fakeRuns{}, zap.NewNop())
	r := NewRouter(NewChatHandler(&fakeReplyService{}, zap.NewNop()), admin, Options{JWTSecret: secret}).Engine

	w := do(t, r, http.MethodPost, "/admin/outbox/replay?id=5", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodPost, "/admin/outbox/replay?id=5", "", clientAuth)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, r, http.MethodGet, "/admin/runs", "", clientAuth)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, replayer.replayed)

	w = do(t, r, http.MethodPost, "/admin/outbox/replay", "", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/admin/outbox/replay?id=abc", "", auth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/admin/outbox/replay?id=5", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{5}, replayer.replayed)

	w = do(t, r, http.MethodPost, "/admin/outbox/replay-failed?limit=10", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["success_count"])
	assert.EqualValues(t, 10, body["limit"])

	w = do(t, r, http.MethodGet, "/admin/outbox/failed", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 1)

	w = do(t, r, http.MethodGet, "/admin/runs", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["runs"], 1)

	w = do(t, r, http.MethodGet, "/admin/runs/run-1", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	run, ok := decode(t, w)["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", run["run_id"])
	assert.Equal(t, "req-1", run["request_id"])

	w = do(t, r, http.MethodGet, "/admin/runs/run-1", "", clientAuth)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, r, http.MethodGet, "/admin/runs/missing", "", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, r, http.MethodGet, "/admin/runs/run-broken", "", auth)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	replayer.err = outbox.ErrEventNotFound
	w = do(t, r, http.MethodPost, "/admin/outbox/replay?id=9", "", auth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_NotRegisteredWithoutSecret(t *testing.T) {
	r := newTestRouter(&fakeReplyService{}, Options{})

	w := do(t, r, http.MethodPost, "/admin/outbox/replay?id=5", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
