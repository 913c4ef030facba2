package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/config"
	"github.com/JakeFAU/brandkit-crawler/internal/reconcile"
	"github.com/JakeFAU/brandkit-crawler/internal/sequencer"
)

type fakeApp struct {
	ticks      int
	reconciled [][2]string
	result     reconcile.Result
	closed     bool
}

func (f *fakeApp) Run(context.Context) error { return nil }

func (f *fakeApp) Tick(context.Context) (sequencer.Report, error) {
	f.ticks++
	return sequencer.Report{Claimed: 1, Continued: 1}, nil
}

func (f *fakeApp) Reconcile(_ context.Context, p, fin string) (reconcile.Result, error) {
	f.reconciled = append(f.reconciled, [2]string{p, fin})
	return f.result, nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func useFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTickCommand(t *testing.T) {
	app := &fakeApp{}
	useFakeApp(t, app)

	out, err := execute(t, "tick", "--count", "3")
	require.NoError(t, err)
	require.Equal(t, 3, app.ticks)
	require.True(t, app.closed)

	var first sequencer.Report
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(out)).Decode(&first))
	require.Equal(t, 1, first.Claimed)
}

func TestReconcileCommand(t *testing.T) {
	app := &fakeApp{result: reconcile.Result{Success: true, TransferredCount: 2, Errors: []string{}}}
	useFakeApp(t, app)

	out, err := execute(t, "reconcile", "tmp_a", "b")
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"tmp_a", "b"}}, app.reconciled)
	require.Contains(t, out, `"transferredCount": 2`)
}

func TestReconcileCommandRejected(t *testing.T) {
	useFakeApp(t, &fakeApp{result: reconcile.Result{Success: false, Errors: []string{"finalOwnerId: owner id is malformed"}}})

	_, err := execute(t, "reconcile", "tmp_a", "bad")
	require.Error(t, err)
}

func TestReconcileCommandNeedsTwoArgs(t *testing.T) {
	useFakeApp(t, &fakeApp{})

	_, err := execute(t, "reconcile", "only-one")
	require.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	called := false
	prev := migrate
	migrate = func(context.Context, config.Config) error {
		called = true
		return nil
	}
	t.Cleanup(func() { migrate = prev })

	_, err := execute(t, "migrate")
	require.NoError(t, err)
	require.True(t, called)
}
