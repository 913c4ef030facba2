package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/clock/system"
	"github.com/JakeFAU/brandkit-crawler/internal/config"
	"github.com/JakeFAU/brandkit-crawler/internal/id/uuid"
	"github.com/JakeFAU/brandkit-crawler/internal/ownerid"
	memorypublisher "github.com/JakeFAU/brandkit-crawler/internal/publisher/memory"
	"github.com/JakeFAU/brandkit-crawler/internal/reconcile"
	"github.com/JakeFAU/brandkit-crawler/internal/sequencer"
	"github.com/JakeFAU/brandkit-crawler/internal/status"
	"github.com/JakeFAU/brandkit-crawler/internal/storage/memory"
)

const (
	testProvisional = "tmp_0c6f3f4e-2b7a-4d55-9f0e-1a2b3c4d5e6f"
	testFinal       = "3f1c2b0e-8a55-4c0f-9a51-6a4f0d7e2c11"
)

type fakeAdvancer struct {
	calls int
	ctxs  []context.Context
	err   error
}

func (a *fakeAdvancer) Advance(ctx context.Context) (sequencer.Report, error) {
	a.calls++
	a.ctxs = append(a.ctxs, ctx)
	return sequencer.Report{Claimed: 2, Completed: 1, Continued: 1}, a.err
}

type testEnv struct {
	server    *Server
	jobs      *memory.JobStore
	assets    *memory.AssetStore
	publisher *memorypublisher.Publisher
	advancer  *fakeAdvancer
}

func newTestEnv(t *testing.T, cfg config.Config, ids ...string) *testEnv {
	t.Helper()
	if len(ids) == 0 {
		ids = []string{"job-1", "job-2"}
	}
	env := &testEnv{
		jobs:      memory.NewJobStore(),
		assets:    memory.NewAssetStore(),
		publisher: memorypublisher.New(),
		advancer:  &fakeAdvancer{},
	}
	if cfg.PubSub.TopicName == "" {
		cfg.PubSub.TopicName = "brandkit-ticks"
	}
	env.server = NewServer(Deps{
		Jobs:       env.jobs,
		Status:     status.New(env.jobs),
		Advancer:   env.advancer,
		Reconciler: reconcile.New(env.jobs, env.assets, nil, nil),
		Publisher:  env.publisher,
		IDs:        uuid.NewSequence(ids...),
		Clock:      system.NewManual(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)),
	}, cfg, nil)
	return env
}

func (e *testEnv) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_CreateJob_Succeeds(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/jobs", `{"targetUrl":"https://acme.test","ownerId":"`+testFinal+`","options":{"forceRender":true}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "job-1", body["jobId"])
	require.Equal(t, testFinal, body["ownerId"])

	job, err := env.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, brandkit.StatusPending, job.Status)
	require.True(t, job.Options.ForceRender)

	msgs := env.publisher.Messages()
	require.Len(t, msgs, 1)
	trigger, ok := msgs[0].Payload.(brandkit.Trigger)
	require.True(t, ok)
	require.Equal(t, "job-1", trigger.JobID)
}

func TestServer_CreateJob_MintsProvisionalOwner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/jobs", `{"targetUrl":"https://acme.test"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	owner, ok := decodeBody(t, rec)["ownerId"].(string)
	require.True(t, ok)
	id, err := ownerid.Parse(owner)
	require.NoError(t, err)
	require.True(t, id.IsProvisional())
}

func TestServer_CreateJob_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"invalid json":     `{invalid`,
		"missing url":      `{}`,
		"relative url":     `{"targetUrl":"/about"}`,
		"ftp url":          `{"targetUrl":"ftp://acme.test/file"}`,
		"bad owner":        `{"targetUrl":"https://acme.test","ownerId":"owner-7"}`,
		"bad cache mode":   `{"targetUrl":"https://acme.test","options":{"cacheMode":"sometimes"}}`,
		"conflicting flag": `{"targetUrl":"https://acme.test","options":{"forceRender":true,"skipRender":true}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, config.Config{})
			rec := env.do(http.MethodPost, "/jobs", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, env.publisher.Messages())
		})
	}
}

func TestServer_CreateJob_IDFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{}, "job-1")
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/jobs", `{"targetUrl":"https://acme.test"}`).Code)
	rec := env.do(http.MethodPost, "/jobs", `{"targetUrl":"https://acme.test"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/jobs", `{"targetUrl":"https://acme.test"}`).Code)

	rec := env.do(http.MethodGet, "/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "pending", body["status"])
	require.EqualValues(t, 0, body["progress"])

	rec = env.do(http.MethodGet, "/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Tick(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/internal/tick", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.EqualValues(t, 2, body["claimed"])
	require.EqualValues(t, 1, body["completed"])

	data := base64.StdEncoding.EncodeToString([]byte(`{"reason":"continue","jobId":"job-1"}`))
	envelope := `{"message":{"data":"` + data + `","messageId":"1","attributes":{"traceparent":"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}},"subscription":"projects/p/subscriptions/s"}`
	rec = env.do(http.MethodPost, "/internal/tick", envelope)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, env.advancer.calls)

	rec = env.do(http.MethodPost, "/internal/tick", "not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 2, env.advancer.calls)
}

func TestServer_TickFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.advancer.err = errors.New("claim pending: connection refused")
	rec := env.do(http.MethodPost, "/internal/tick", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Reconcile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	_, err := env.assets.AddAssets(context.Background(), []brandkit.Asset{
		{ID: "a1", OwnerID: testProvisional, JobID: "job-1", Kind: brandkit.AssetImage, Value: "https://acme.test/a.png"},
	})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/owners/reconcile", `{"provisionalOwnerId":"`+testProvisional+`","finalOwnerId":"`+testFinal+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["transferredCount"])

	rec = env.do(http.MethodPost, "/owners/reconcile", `{"provisionalOwnerId":"`+testProvisional+`","finalOwnerId":"`+testFinal+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, decodeBody(t, rec)["transferredCount"])

	rec = env.do(http.MethodPost, "/owners/reconcile", `{"provisionalOwnerId":"`+testProvisional+`","finalOwnerId":"nope"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body = decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.EqualValues(t, 0, body["transferredCount"])
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/jobs/job-1", "").Code)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/jobs/job-1", "", "X-API-Key", "secret").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	env.server.deps.Ready = func(context.Context) error { return errors.New("pool closed") }
	require.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/readyz", "").Code)

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "", "X-Request-ID", "req-42")
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
