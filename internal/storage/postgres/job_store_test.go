package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
)

var jobColumnNames = []string{
	"id", "owner_id", "target_url", "status", "progress", "options", "next_step", "attempts",
	"not_before", "lease_until", "context", "note", "result", "error_code", "error_message",
	"started_at", "finished_at", "created_at", "updated_at",
}

type jobRow struct {
	id, owner, status, step string
	progress, attempts      int
	created                 time.Time
	lease                   *time.Time
	result                  []byte
	errorCode               *string
}

func addJobRow(rows *pgxmock.Rows, r jobRow) *pgxmock.Rows {
	return rows.AddRow(
		r.id, r.owner, "https://example.com", r.status, r.progress, []byte(`{}`), r.step, r.attempts,
		(*time.Time)(nil), r.lease, []byte(`{"title":"Example"}`), "", r.result, r.errorCode, (*string)(nil),
		(*time.Time)(nil), (*time.Time)(nil), r.created, r.created,
	)
}

func newMockJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStore(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateInsertsPendingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	created := time.Unix(1700000000, 0).UTC()

	rows := addJobRow(pgxmock.NewRows(jobColumnNames), jobRow{
		id: "job-1", owner: "owner-1", status: "pending", step: "fetch", created: created,
	})
	mock.ExpectQuery("INSERT INTO crawl_jobs").
		WithArgs("job-1", "owner-1", "https://example.com", []byte(`{}`), created).
		WillReturnRows(rows)

	job, err := store.Create(context.Background(), brandkit.NewJob{
		ID: "job-1", OwnerID: "owner-1", TargetURL: " https://example.com ", CreatedAt: created,
	})
	require.NoError(t, err)
	require.Equal(t, brandkit.StatusPending, job.Status)
	require.Equal(t, brandkit.StepFetch, job.NextStep)
	require.Equal(t, "Example", job.Context.Title)
	require.Nil(t, job.Result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	_, err := store.Create(context.Background(), brandkit.NewJob{ID: "job-1", TargetURL: "not a url"})
	require.ErrorIs(t, err, brandkit.ErrInvalidURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, brandkit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecodesTerminalFields(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	code := "FETCH_BLOCKED"
	rows := addJobRow(pgxmock.NewRows(jobColumnNames), jobRow{
		id: "job-1", owner: "owner-1", status: "completed", step: "generate", progress: 100,
		created: time.Unix(1700000000, 0).UTC(), result: []byte(`{"name":"Acme","voice":{"tone":"bold"}}`),
		errorCode: &code,
	})
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs WHERE id").WithArgs("job-1").WillReturnRows(rows)

	job, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, brandkit.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	require.Equal(t, "Acme", job.Result.Name)
	require.Equal(t, "bold", job.Result.Voice.Tone)
	require.Equal(t, code, job.ErrorCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextPendingOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	now := time.Unix(1700000100, 0).UTC()
	lease := time.Minute
	older := now.Add(-time.Hour)
	lease1 := now.Add(lease)

	rows := pgxmock.NewRows(jobColumnNames)
	addJobRow(rows, jobRow{id: "job-b", owner: "o", status: "processing", step: "fetch", attempts: 1, created: now, lease: &lease1})
	addJobRow(rows, jobRow{id: "job-a", owner: "o", status: "processing", step: "fetch", attempts: 1, created: older, lease: &lease1})
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, now.Add(lease), 2).
		WillReturnRows(rows)

	jobs, err := store.ClaimNextPending(context.Background(), 2, now, lease)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-a", jobs[0].ID)
	require.Equal(t, "job-b", jobs[1].ID)
	require.Equal(t, brandkit.StatusProcessing, jobs[0].Status)
	require.Equal(t, 1, jobs[0].Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimWithZeroLimitSkipsQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	jobs, err := store.ClaimDue(context.Background(), 0, time.Now(), time.Minute)
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDueWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	now := time.Unix(1700000100, 0).UTC()
	mock.ExpectQuery("UPDATE crawl_jobs").
		WithArgs(now, now.Add(time.Minute), 5).
		WillReturnError(errors.New("connection reset"))

	_, err := store.ClaimDue(context.Background(), 5, now, time.Minute)
	require.ErrorContains(t, err, "claim due")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteReportsLostRace(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	at := time.Unix(1700000200, 0).UTC()
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("job-1", pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("job-2", pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	changed, err := store.Complete(context.Background(), "job-1", brandkit.BrandKit{Name: "Acme"}, at)
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = store.Complete(context.Background(), "job-2", brandkit.BrandKit{Name: "Acme"}, at)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailUsesStatusGuard(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	at := time.Unix(1700000200, 0).UTC()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'processing'")).
		WithArgs("job-1", "FETCH_FAILED", "We could not load the website.", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	changed, err := store.Fail(context.Background(), "job-1", "FETCH_FAILED", "We could not load the website.", at)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStepClampsProgress(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	notBefore := time.Unix(1700000300, 0).UTC()
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(progress, $6)")).
		WithArgs("job-1", "render", 0, &notBefore, []byte(`{"title":"Acme"}`), 100, "fetched").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	changed, err := store.SaveStep(context.Background(), "job-1", brandkit.StepUpdate{
		NextStep:  brandkit.StepRender,
		NotBefore: &notBefore,
		Context:   brandkit.StepContext{Title: "Acme"},
		Progress:  150,
		Note:      "fetched",
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordProgressOnlyTouchesActiveJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec(regexp.QuoteMeta("status IN ('pending', 'processing')")).
		WithArgs("job-1", 0, "starting").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.RecordProgress(context.Background(), "job-1", -5, "starting"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStaleReturnsFailedJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	cutoff := time.Unix(1700000000, 0).UTC()
	at := cutoff.Add(time.Hour)
	code := "SYSTEM_STALE_JOB"
	rows := addJobRow(pgxmock.NewRows(jobColumnNames), jobRow{
		id: "job-1", owner: "o", status: "failed", step: "render", created: cutoff.Add(-time.Hour), errorCode: &code,
	})
	mock.ExpectQuery("UPDATE crawl_jobs").
		WithArgs(cutoff, code, "stale", at).
		WillReturnRows(rows)

	jobs, err := store.FailStale(context.Background(), cutoff, code, "stale", at)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, brandkit.StatusFailed, jobs[0].Status)
	require.Equal(t, code, jobs[0].ErrorCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReassignOwnerCountsRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE crawl_jobs SET owner_id").
		WithArgs("tmp_x", "final").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ReassignOwner(context.Background(), "tmp_x", "final")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestTerminalNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectQuery("SELECT (.+) FROM crawl_jobs").
		WithArgs("owner-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.LatestTerminal(context.Background(), "owner-1")
	require.ErrorIs(t, err, brandkit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindReusableNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	since := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("status = 'completed'").
		WithArgs("owner-1", "https://example.com", since).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FindReusable(context.Background(), "owner-1", "https://example.com", since)
	require.ErrorIs(t, err, brandkit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	stmts := statements(schema)
	require.GreaterOrEqual(t, len(stmts), 3)
	for _, stmt := range stmts {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoresRequireDB(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(nil)
	require.Error(t, err)
	_, err = NewAssetStore(nil)
	require.Error(t, err)
	_, err = NewOwnerStore(nil)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}
