package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/config"
	memorystorage "github.com/JakeFAU/brandkit-crawler/internal/storage/memory"
)

const ownerID = "3f1c2b0e-8a55-4c0f-9a51-6a4f0d7e2c11"

const acmePage = `<!doctype html>
<html>
<head>
  <title>Acme Rockets</title>
  <meta name="description" content="Acme builds fast rockets for bold teams. Launch today.">
  <style>body { color: #1a2b3c; background: #ffffff; } .cta { background-color: #ff6600; }</style>
</head>
<body>
  <img src="/logo.png" alt="Acme logo" class="logo">
  <h1>Acme Rockets</h1>
  <p>Acme has been building fast, powerful rockets for bold teams since 1949. Our launch
  platform helps you reach orbit sooner, with a friendly crew that cares about your mission
  and a future that is brighter than ever. Every rocket ships with a lifetime of support.</p>
  <img src="/hero.jpg" alt="A rocket on the pad">
</body>
</html>`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetch.RespectRobots = false
	cfg.Fetch.RateLimit.RPS = 0
	cfg.Scheduler.Enabled = false
	cfg.Headless.Enabled = false
	cfg.Generator.Backend = "static"
	cfg.Storage.Backend = "memory"
	cfg.Storage.BlobBackend = "memory"
	cfg.PubSub.Enabled = false
	return cfg
}

func TestEndToEndStaticPage(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(acmePage))
	}))
	defer site.Close()

	ctx := context.Background()
	app, err := Build(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(ctx)) }()
	app.owners.(*memorystorage.OwnerStore).Register(ownerID)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"targetUrl":"`+site.URL+`/","ownerId":"`+ownerID+`"}`))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	var view struct {
		Status   string             `json:"status"`
		Progress int                `json:"progress"`
		Result   *brandkit.BrandKit `json:"result"`
	}
	lastProgress := 0
	for range 10 {
		_, err := app.Tick(ctx)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+created.JobID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
		require.GreaterOrEqual(t, view.Progress, lastProgress)
		lastProgress = view.Progress
		if view.Status == string(brandkit.StatusCompleted) || view.Status == string(brandkit.StatusFailed) {
			break
		}
	}

	require.Equal(t, string(brandkit.StatusCompleted), view.Status)
	require.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Result)
	require.Equal(t, "Acme Rockets", view.Result.Name)
	require.NotEmpty(t, view.Result.Colors)
	require.Positive(t, view.Result.AssetCount)

	run, ok := app.owners.(*memorystorage.OwnerStore).LastRun(ownerID)
	require.True(t, ok)
	require.Equal(t, brandkit.RunOK, run.Status)
	require.Equal(t, created.JobID, run.JobID)
}

func TestEndToEndNotFoundFailsWithoutRetry(t *testing.T) {
	site := httptest.NewServer(http.NotFoundHandler())
	defer site.Close()

	ctx := context.Background()
	app, err := Build(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(ctx)) }()

	job, err := app.jobs.Create(ctx, brandkit.NewJob{ID: "job-404", OwnerID: ownerID, TargetURL: site.URL + "/missing"})
	require.NoError(t, err)

	report, err := app.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	got, err := app.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, brandkit.StatusFailed, got.Status)
	require.True(t, strings.HasPrefix(got.ErrorCode, "FETCH_"))
}

func TestBuildRejectsMissingAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.Backend = "openai"
	cfg.Generator.OpenAIAPIKey = ""
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestBlocklistedTargetFailsBeforeFetch(t *testing.T) {
	hits := 0
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(acmePage))
	}))
	defer site.Close()

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Fetch.Blocklist = []string{"127.0.0.1"}
	app, err := Build(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Close(ctx)) }()

	_, err = app.jobs.Create(ctx, brandkit.NewJob{ID: "job-blocked", OwnerID: ownerID, TargetURL: site.URL})
	require.NoError(t, err)
	_, err = app.Tick(ctx)
	require.NoError(t, err)

	got, err := app.jobs.Get(ctx, "job-blocked")
	require.NoError(t, err)
	require.Equal(t, brandkit.StatusFailed, got.Status)
	require.Equal(t, "FETCH_BLOCKED", got.ErrorCode)
	require.Zero(t, hits)
}
