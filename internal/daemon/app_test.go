// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/scheduler"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/sweep"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, sweep.Request) (sweep.Summary, error) {
	return sweep.Summary{}, nil
}

func TestAppRequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	if err := app.Run(context.Background()); !errors.Is(err, ErrMissingManager) {
		t.Fatalf("Run() error = %v, want %v", err, ErrMissingManager)
	}
}

func TestAppRunsManagerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: "127.0.0.1:0",
		APIHandler: http.NotFoundHandler(),
	}
	mgr, err := NewManager(testServerCfg(), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	app := NewApp(log.WithComponent("test"), mgr, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestAppStopsSchedulerOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	st, err := store.Open(filepath.Join(t.TempDir(), "comradarr.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer func() { _ = st.Close() }()

	orch := scheduler.New(st, noopRunner{}, nil)

	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: "127.0.0.1:0",
		APIHandler: http.NotFoundHandler(),
	}
	mgr, err := NewManager(testServerCfg(), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	app := NewApp(log.WithComponent("test"), mgr, nil, orch)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
	// goleak confirms the scheduler loop exited through the shutdown hook.
}
