package tilestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/BasicAcid/tileworld/internal/tileworker"
)

type fakeWorker struct {
	id     string
	status tileworker.Status
}

func (f *fakeWorker) ID() string                { return f.id }
func (f *fakeWorker) Status() tileworker.Status { return f.status }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestStatusEndpointReportsWorkerState(t *testing.T) {
	fw := &fakeWorker{
		id: "tile-a",
		status: tileworker.Status{
			ID:        "tile-a",
			Iteration: 4,
			Rows:      2,
			Cols:      2,
			Neighbors: []string{"UP"},
		},
	}

	s := New(freePort(t), fw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", s.port))
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var got tileworker.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "tile-a" || got.Iteration != 4 {
		t.Errorf("status = %+v, want id=tile-a iteration=4", got)
	}
}

func TestHealthEndpointReportsID(t *testing.T) {
	fw := &fakeWorker{id: "tile-b"}
	s := New(freePort(t), fw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", s.port))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["id"] != "tile-b" {
		t.Errorf("health id = %v, want tile-b", got["id"])
	}
}
