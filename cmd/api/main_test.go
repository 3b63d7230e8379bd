// Package main contains integration tests for the API server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// TestGracefulShutdown_SignalHandling tests that the server handles signals correctly.
func TestGracefulShutdown_SignalHandling(t *testing.T) {
	// Find an available port
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	// Capture log output
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	// Create HTTP server with routes
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	server := &http.Server{
		Addr:         listener.Addr().String(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to signal server started
	serverStarted := make(chan struct{})
	serverStopped := make(chan struct{})

	// Start server in goroutine
	go func() {
		// Re-listen on the same port
		ln, err := net.Listen("tcp", server.Addr)
		if err != nil {
			t.Errorf("failed to re-listen: %v", err)
			close(serverStarted)
			close(serverStopped)
			return
		}
		logger.Info("starting server", "port", port)
		close(serverStarted)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(serverStopped)
	}()

	// Wait for server to start
	select {
	case <-serverStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("server failed to start in time")
	}

	// Give server a moment to be ready
	time.Sleep(50 * time.Millisecond)

	// Log shutdown start
	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("server shutdown error: %v", err)
	}

	logger.Info("server stopped")

	// Wait for server to stop
	select {
	case <-serverStopped:
	case <-time.After(15 * time.Second):
		t.Fatal("server failed to stop in time")
	}

	// Verify log order
	logs := logBuf.String()
	startIdx := strings.Index(logs, "starting server")
	shutdownIdx := strings.Index(logs, "shutting down server")
	stoppedIdx := strings.Index(logs, "server stopped")

	if startIdx == -1 {
		t.Error("expected 'starting server' log message")
	}
	if shutdownIdx == -1 {
		t.Error("expected 'shutting down server' log message")
	}
	if stoppedIdx == -1 {
		t.Error("expected 'server stopped' log message")
	}

	if startIdx > shutdownIdx {
		t.Error("expected 'starting server' to come before 'shutting down server'")
	}
	if shutdownIdx > stoppedIdx {
		t.Error("expected 'shutting down server' to come before 'server stopped'")
	}
}

// TestGracefulShutdown_InFlightRequests tests that in-flight requests complete before shutdown.
func TestGracefulShutdown_InFlightRequests(t *testing.T) {
	// Find an available port
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	// Mutex for synchronizing handler operations
	var mu sync.Mutex
	var requestStarted bool
	var requestCompleted bool
	handlerStarted := make(chan struct{})
	handlerCanContinue := make(chan struct{})

	// Create HTTP server with a slow endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestStarted = true
		mu.Unlock()
		close(handlerStarted)

		// Wait until we're told to continue (simulates slow request)
		<-handlerCanContinue

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"completed"}`))

		mu.Lock()
		requestCompleted = true
		mu.Unlock()
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to signal server started
	serverStarted := make(chan struct{})
	serverStopped := make(chan struct{})

	// Start server in goroutine
	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			t.Errorf("failed to listen: %v", err)
			close(serverStarted)
			close(serverStopped)
			return
		}
		close(serverStarted)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
		close(serverStopped)
	}()

	// Wait for server to start
	select {
	case <-serverStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("server failed to start in time")
	}

	// Give server a moment to be ready
	time.Sleep(50 * time.Millisecond)

	// Start in-flight request in a goroutine
	requestDone := make(chan struct{})
	var response *http.Response
	go func() {
		resp, err := http.Get("http://" + addr + "/slow")
		if err != nil {
			t.Errorf("request error: %v", err)
		}
		response = resp
		close(requestDone)
	}()

	// Wait for handler to start processing
	select {
	case <-handlerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("handler failed to start in time")
	}

	// Start shutdown while request is in flight
	shutdownDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("shutdown error: %v", err)
		}
		close(shutdownDone)
	}()

	// Give shutdown a moment to begin
	time.Sleep(50 * time.Millisecond)

	// Now allow the handler to complete
	close(handlerCanContinue)

	// Wait for request to complete
	select {
	case <-requestDone:
	case <-time.After(5 * time.Second):
		t.Fatal("request failed to complete in time")
	}

	// Wait for shutdown to complete
	select {
	case <-shutdownDone:
	case <-time.After(15 * time.Second):
		t.Fatal("shutdown failed to complete in time")
	}

	// Verify in-flight request completed successfully
	mu.Lock()
	if !requestStarted {
		t.Error("expected request to have started")
	}
	if !requestCompleted {
		t.Error("expected request to have completed")
	}
	mu.Unlock()

	// Verify response
	if response != nil {
		defer response.Body.Close()
		if response.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", response.StatusCode)
		}
		body, _ := io.ReadAll(response.Body)
		var result map[string]string
		if err := json.Unmarshal(body, &result); err != nil {
			t.Errorf("failed to parse response: %v", err)
		}
		if result["status"] != "completed" {
			t.Errorf("expected status 'completed', got '%s'", result["status"])
		}
	}
}

// TestGracefulShutdown_ExitCode0 verifies server exit behavior.
// Since we can't easily test os.Exit in unit tests, this test verifies
// that no error is returned during a clean shutdown.
func TestGracefulShutdown_ExitCode0(t *testing.T) {
	// Find an available port
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Start server
	go func() {
		ln, _ := net.Listen("tcp", addr)
		server.Serve(ln)
	}()

	time.Sleep(50 * time.Millisecond)

	// Shutdown should complete without error (exit code 0 scenario)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = server.Shutdown(ctx)
	if err != nil {
		t.Errorf("expected clean shutdown (exit 0), got error: %v", err)
	}
}

// TestSignalNotify_SIGINT tests that signal.Notify properly catches SIGINT.
func TestSignalNotify_SIGINT(t *testing.T) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Send signal in a goroutine
	go func() {
		time.Sleep(50 * time.Millisecond)
		syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	}()

	// Wait for signal with timeout
	select {
	case sig := <-quit:
		if sig != syscall.SIGINT {
			t.Errorf("expected SIGINT, got %v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Error("did not receive SIGINT in time")
	}
}

// TestSignalNotify_SIGTERM tests that signal.Notify properly catches SIGTERM.
func TestSignalNotify_SIGTERM(t *testing.T) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Send signal in a goroutine
	go func() {
		time.Sleep(50 * time.Millisecond)
		syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	}()

	// Wait for signal with timeout
	select {
	case sig := <-quit:
		if sig != syscall.SIGTERM {
			t.Errorf("expected SIGTERM, got %v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Error("did not receive SIGTERM in time")
	}
}
