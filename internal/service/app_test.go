package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ning0612/addonsync/internal/backup"
	"github.com/Ning0612/addonsync/internal/domain"
)

// channelServer accepts websocket connections and holds them open
func channelServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApp_ConnectEnablesOneShotBackup(t *testing.T) {
	srv := channelServer(t)
	ws := "ws" + strings.TrimPrefix(srv.URL, "http")
	app, backups := newAppWithRemote(t, fmt.Sprintf("  ws_url: %q\n", ws), "")

	ctx := context.Background()
	if outcome := app.Backup.Initiate(ctx, true); outcome != backup.OutcomeDisconnected {
		t.Fatalf("Expected disconnected before Connect, got %s", outcome)
	}

	if err := app.Connect(ctx, 5*time.Second); err != nil {
		t.Fatalf("Failed to connect channel: %v", err)
	}
	if !app.Channel.Connected() {
		t.Fatal("Expected channel connected after Connect")
	}

	if outcome := app.Backup.Initiate(ctx, true); outcome != backup.OutcomeCompleted {
		t.Fatalf("Expected completed backup once connected, got %s", outcome)
	}
	entries, err := os.ReadDir(backups)
	if err != nil {
		t.Fatalf("Failed to read backups dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected one backup archive, got %d", len(entries))
	}

	// A second call reuses the running channel
	if err := app.Connect(ctx, time.Second); err != nil {
		t.Errorf("Expected repeated Connect to succeed, got %v", err)
	}
}

func TestApp_ConnectTimesOut(t *testing.T) {
	app, _ := newAppWithRemote(t, "  ws_url: \"ws://127.0.0.1:1/ws\"\n", "")

	start := time.Now()
	err := app.Connect(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect waited too long: %s", elapsed)
	}

	if outcome := app.Backup.Initiate(context.Background(), true); outcome != backup.OutcomeDisconnected {
		t.Errorf("Expected disconnected outcome, got %s", outcome)
	}

	done := make(chan struct{})
	go func() {
		app.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the reconnecting channel")
	}
}

func TestApp_ConnectWithoutChannel(t *testing.T) {
	app, _ := newApp(t, "")
	if app.Channel != nil {
		t.Fatal("Expected no channel without ws_url")
	}
	if err := app.Connect(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Expected nil without a channel, got %v", err)
	}
}
