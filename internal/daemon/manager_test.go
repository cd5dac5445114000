// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/comradarr/comradarr/internal/config"
	"github.com/comradarr/comradarr/internal/log"
)

func testServerCfg() config.ServerConfig {
	return config.ServerConfig{
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     10 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 2 * time.Second,
	}
}

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve listen addr: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

func TestNewManagerValidDeps(t *testing.T) {
	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: "127.0.0.1:0",
		APIHandler: http.NotFoundHandler(),
	}

	mgr, err := NewManager(testServerCfg(), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if mgr == nil {
		t.Fatal("NewManager() returned nil manager")
	}
}

func TestNewManagerMissingLogger(t *testing.T) {
	deps := Deps{
		Logger:     zerolog.Nop(), // disabled logger
		ListenAddr: "127.0.0.1:0",
		APIHandler: http.NotFoundHandler(),
	}

	_, err := NewManager(testServerCfg(), deps)
	if !errors.Is(err, ErrMissingLogger) {
		t.Fatalf("NewManager() error = %v, want %v", err, ErrMissingLogger)
	}
}

func TestNewManagerMissingListenAddr(t *testing.T) {
	deps := Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	}

	_, err := NewManager(testServerCfg(), deps)
	if !errors.Is(err, ErrMissingListenAddr) {
		t.Fatalf("NewManager() error = %v, want %v", err, ErrMissingListenAddr)
	}
}

func TestNewManagerMissingAPIHandler(t *testing.T) {
	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: "127.0.0.1:0",
		APIHandler: nil,
	}

	_, err := NewManager(testServerCfg(), deps)
	if !errors.Is(err, ErrMissingAPIHandler) {
		t.Fatalf("NewManager() error = %v, want %v", err, ErrMissingAPIHandler)
	}
}

func TestManagerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: "127.0.0.1:0",
		APIHandler: handler,
	}

	mgr, err := NewManager(testServerCfg(), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManagerShutdownTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// A handler that holds its request open past the shutdown deadline.
	requestStarted := make(chan struct{})
	releaseHandler := make(chan struct{})
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		select {
		case <-r.Context().Done():
		case <-releaseHandler:
		}
	})

	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: reserveListenAddr(t),
		APIHandler: handler,
	}

	serverCfg := testServerCfg()
	serverCfg.ShutdownTimeout = 100 * time.Millisecond

	mgr, err := NewManager(serverCfg, deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(deps.ListenAddr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	requestDone := make(chan struct{})
	go func() {
		defer close(requestDone)
		client := &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		}
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+deps.ListenAddr, nil)
		resp, err := client.Do(req)
		if err == nil && resp != nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-requestStarted:
		// Request is in-flight; shutdown should now hit the timeout path.
	case <-time.After(2 * time.Second):
		t.Fatal("expected in-flight request before shutdown")
	}

	cancel()

	select {
	case err := <-errChan:
		if err == nil {
			t.Fatal("expected shutdown timeout error, got nil")
		}
		if !strings.Contains(err.Error(), "shutdown errors") && !strings.Contains(err.Error(), "context deadline exceeded") {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	close(releaseHandler)

	select {
	case <-requestDone:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked request did not terminate after shutdown")
	}
}

func TestManagerShutdownNotStarted(t *testing.T) {
	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: "127.0.0.1:0",
		APIHandler: http.NotFoundHandler(),
	}

	mgr, err := NewManager(testServerCfg(), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	err = mgr.Shutdown(context.Background())
	if !errors.Is(err, ErrManagerNotStarted) {
		t.Errorf("Shutdown() error = %v, want %v", err, ErrManagerNotStarted)
	}
}

func TestManagerWithMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# HELP test_metric\n"))
	})

	deps := Deps{
		Logger:         log.WithComponent("test"),
		ListenAddr:     reserveListenAddr(t),
		APIHandler:     apiHandler,
		MetricsAddr:    reserveListenAddr(t),
		MetricsHandler: metricsHandler,
	}

	mgr, err := NewManager(testServerCfg(), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(deps.MetricsAddr, 2*time.Second); err != nil {
		t.Fatalf("metrics server did not start listening: %v", err)
	}

	resp, err := http.Get("http://" + deps.MetricsAddr)
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManagerPropagatesListenErrors(t *testing.T) {
	// Occupy a port so the manager's bind fails.
	testServer := httptest.NewServer(http.NotFoundHandler())
	defer testServer.Close()

	deps := Deps{
		Logger:     log.WithComponent("test"),
		ListenAddr: testServer.Listener.Addr().String(),
		APIHandler: http.NotFoundHandler(),
	}

	serverCfg := testServerCfg()
	serverCfg.ShutdownTimeout = time.Second

	mgr, err := NewManager(serverCfg, deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.Start(ctx); err == nil {
		t.Error("Start() expected error for port conflict, got nil")
	}
}

func TestManagerShutdownHooksRunInReverseOrder(t *testing.T) {
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

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	mgr.RegisterShutdownHook("first", record("first"))
	mgr.RegisterShutdownHook("second", record("second"))
	mgr.RegisterShutdownHook("third", record("third"))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("hooks ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hooks ran %v, want %v", order, want)
		}
	}
}

func TestManagerHookFailureSurfaces(t *testing.T) {
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
	mgr.RegisterShutdownHook("flaky", func(context.Context) error {
		return errors.New("close failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errChan:
		if err == nil {
			t.Fatal("expected hook failure to surface, got nil")
		}
		if !strings.Contains(err.Error(), "hook flaky") {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}
