package tileworker

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/BasicAcid/tileworld/internal/direction"
)

// TestHandleIncomingBorderBlocksDuplicateBeforeAdvance exercises R1's
// reject-until-advance wait loop directly: a second border arriving from a
// direction that already has a pending strip must block until the round it
// belongs to advances, not overwrite or queue alongside the first.
func TestHandleIncomingBorderBlocksDuplicateBeforeAdvance(t *testing.T) {
	w := startTestWorker(t, [][]int{{0, 0}, {0, 0}})
	if err := w.AddNeighbor(direction.UP, Endpoint{Host: "127.0.0.1", Port: 1}); err != nil {
		t.Fatalf("AddNeighbor(UP): %v", err)
	}
	if err := w.AddNeighbor(direction.DOWN, Endpoint{Host: "127.0.0.1", Port: 1}); err != nil {
		t.Fatalf("AddNeighbor(DOWN): %v", err)
	}

	first := []int{1, 1}
	w.handleIncomingBorder(direction.UP, first)

	w.mu.Lock()
	if got, ok := w.pendingBorders[direction.UP]; !ok || !reflect.DeepEqual(got, first) {
		t.Fatalf("pendingBorders[UP] = %v, %v; want %v, true", got, ok, first)
	}
	w.mu.Unlock()

	second := []int{0, 1}
	returned := make(chan struct{})
	go func() {
		w.handleIncomingBorder(direction.UP, second)
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("second handleIncomingBorder(UP, ...) returned before the first round advanced")
	case <-time.After(100 * time.Millisecond):
	}

	w.mu.Lock()
	if got := w.pendingBorders[direction.UP]; !reflect.DeepEqual(got, first) {
		t.Errorf("pendingBorders[UP] = %v while second delivery is blocked, want unchanged %v", got, first)
	}
	w.mu.Unlock()

	// Completing the round from the other wired direction must advance
	// the worker and release the blocked call.
	w.handleIncomingBorder(direction.DOWN, []int{0, 0})

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("second handleIncomingBorder(UP, ...) never returned after the round advanced")
	}

	if w.Iteration() != 1 {
		t.Fatalf("Iteration() = %d, want 1", w.Iteration())
	}

	w.mu.Lock()
	got, ok := w.pendingBorders[direction.UP]
	w.mu.Unlock()
	if !ok || !reflect.DeepEqual(got, second) {
		t.Errorf("pendingBorders[UP] after release = %v, %v; want %v, true (the deferred second delivery)", got, ok, second)
	}
}

// fakeNeighborListener stands in for a neighbor's border_port: it accepts
// connections and counts how many border messages it decodes.
type fakeNeighborListener struct {
	ln net.Listener
}

func newFakeNeighborListener(t *testing.T) (*fakeNeighborListener, chan direction.Direction) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	received := make(chan direction.Direction, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				ch := newChannel(conn)
				d, _, err := ch.RecvBorderMessage()
				if err == nil {
					received <- d
				}
			}()
		}
	}()
	return &fakeNeighborListener{ln: ln}, received
}

func (f *fakeNeighborListener) endpoint() Endpoint {
	return endpointOf(f.ln.Addr())
}

func (f *fakeNeighborListener) close() {
	f.ln.Close()
}

// TestSendBordersDeliversExactlyOnePerNeighbor exercises R2 directly: after
// a round is initiated, every wired neighbor receives exactly one border
// message, addressed with this worker's own direction from the neighbor's
// point of view (d.Opposite()).
func TestSendBordersDeliversExactlyOnePerNeighbor(t *testing.T) {
	w := startTestWorker(t, [][]int{{1, 2}, {3, 4}})

	up, upRecv := newFakeNeighborListener(t)
	defer up.close()
	right, rightRecv := newFakeNeighborListener(t)
	defer right.close()

	if err := w.AddNeighbor(direction.UP, up.endpoint()); err != nil {
		t.Fatalf("AddNeighbor(UP): %v", err)
	}
	if err := w.AddNeighbor(direction.RIGHT, right.endpoint()); err != nil {
		t.Fatalf("AddNeighbor(RIGHT): %v", err)
	}

	w.mu.Lock()
	toSend := w.beginRoundLocked()
	w.mu.Unlock()
	if toSend == nil {
		t.Fatal("beginRoundLocked returned nil, want a snapshot to dispatch")
	}
	w.sendBorders(toSend)

	assertExactlyOne := func(name string, ch chan direction.Direction, want direction.Direction) {
		select {
		case got := <-ch:
			if got != want {
				t.Errorf("%s neighbor received border for %s, want %s", name, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s neighbor received no border strip", name)
		}
		select {
		case extra := <-ch:
			t.Errorf("%s neighbor received a second border strip for %s, want exactly one", name, extra)
		case <-time.After(100 * time.Millisecond):
		}
	}

	assertExactlyOne("up", upRecv, direction.DOWN)
	assertExactlyOne("right", rightRecv, direction.LEFT)
}

// TestThreeTileCross reproduces the literal center/up/right scenario: center
// is wired UP to up and RIGHT to right, and right is wired UPLEFT to up, so
// up must fold center's DOWN-bound strip and right's DOWNRIGHT-bound corner
// together before advancing. One global round brings all three tiles to the
// exact grids called for by that wiring.
func TestThreeTileCross(t *testing.T) {
	center := startTestWorker(t, [][]int{
		{0, 1, 0},
		{0, 0, 0},
		{0, 0, 1},
	})
	up := startTestWorker(t, [][]int{
		{0, 0, 0},
		{0, 0, 0},
		{1, 0, 1},
	})
	right := startTestWorker(t, [][]int{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 0},
	})

	if err := Connect(center, up, direction.UP); err != nil {
		t.Fatalf("Connect(center,up): %v", err)
	}
	if err := Connect(center, right, direction.RIGHT); err != nil {
		t.Fatalf("Connect(center,right): %v", err)
	}
	if err := Connect(right, up, direction.UPLEFT); err != nil {
		t.Fatalf("Connect(right,up): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		cells [][]int
		err   error
	}
	centerDone := make(chan result, 1)
	upDone := make(chan result, 1)
	rightDone := make(chan result, 1)

	go func() {
		g := 1
		cells, err := center.Cells(ctx, &g)
		centerDone <- result{cells, err}
	}()
	go func() {
		cells, err := up.WaitForCells(ctx, 1)
		upDone <- result{cells, err}
	}()
	go func() {
		cells, err := right.WaitForCells(ctx, 1)
		rightDone <- result{cells, err}
	}()

	centerResult := <-centerDone
	upResult := <-upDone
	rightResult := <-rightDone

	if centerResult.err != nil {
		t.Fatalf("center.Cells(1): %v", centerResult.err)
	}
	if upResult.err != nil {
		t.Fatalf("up.WaitForCells(1): %v", upResult.err)
	}
	if rightResult.err != nil {
		t.Fatalf("right.WaitForCells(1): %v", rightResult.err)
	}

	wantCenter := [][]int{{0, 1, 1}, {0, 0, 1}, {0, 0, 0}}
	wantUp := [][]int{{0, 0, 0}, {0, 0, 0}, {0, 1, 1}}
	wantRight := [][]int{{1, 0, 0}, {1, 0, 0}, {0, 0, 0}}

	if !reflect.DeepEqual(centerResult.cells, wantCenter) {
		t.Errorf("center.cells(1) = %v, want %v", centerResult.cells, wantCenter)
	}
	if !reflect.DeepEqual(upResult.cells, wantUp) {
		t.Errorf("up.wait_for_cells(1) = %v, want %v", upResult.cells, wantUp)
	}
	if !reflect.DeepEqual(rightResult.cells, wantRight) {
		t.Errorf("right.wait_for_cells(1) = %v, want %v", rightResult.cells, wantRight)
	}
}
