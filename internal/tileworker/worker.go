// Package tileworker implements the per-tile process: a grid owner that
// listens on three endpoints (border, wait, cells) and drives a leaderless
// distributed border-exchange barrier with its wired neighbors.
package tileworker

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BasicAcid/tileworld/internal/direction"
	"github.com/BasicAcid/tileworld/internal/tileerrors"
	"github.com/BasicAcid/tileworld/internal/tilegrid"
)

// Endpoint names a TCP listener a worker exposes, or a neighbor's
// border_port to dial when sending it a border.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func endpointOf(addr net.Addr) Endpoint {
	tcp := addr.(*net.TCPAddr)
	return Endpoint{Host: tcp.IP.String(), Port: tcp.Port}
}

// Config configures a single tile worker.
type Config struct {
	// Host is the interface to bind the three listeners on. Defaults to
	// "127.0.0.1".
	Host string
	// BorderPort, WaitPort, CellsPort pin the three listeners to fixed
	// ports; 0 lets the OS assign one, which is the normal case. Fixed
	// ports exist for deterministic tests.
	BorderPort int
	WaitPort   int
	CellsPort  int
	// Cells is the tile's initial grid.
	Cells [][]int
	// ID labels the worker in log output. Auto-generated if empty.
	ID string
}

// Worker owns a tile grid and coordinates its generation with wired
// neighbors.
type Worker struct {
	id   string
	host string

	borderListener net.Listener
	waitListener   net.Listener
	cellsListener  net.Listener

	BorderAddr Endpoint
	WaitAddr   Endpoint
	CellsAddr  Endpoint

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	hasIterated *sync.Cond

	cells     *tilegrid.Grid
	iteration int

	neighbors      map[direction.Direction]Endpoint
	pendingBorders map[direction.Direction][]int
	borderSent     bool

	log *logrus.Entry
}

// Start builds the initial grid, binds the three listeners concurrently,
// and begins accepting connections. It blocks until all three endpoints
// are bound and ready.
func Start(cfg Config) (*Worker, error) {
	grid, err := tilegrid.New(cfg.Cells)
	if err != nil {
		return nil, tileerrors.Wrap(err, "build initial grid")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	id := cfg.ID
	if id == "" {
		id = fmt.Sprintf("tile-%p", grid)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:             id,
		host:           host,
		ctx:            ctx,
		cancel:         cancel,
		cells:          grid,
		neighbors:      make(map[direction.Direction]Endpoint),
		pendingBorders: make(map[direction.Direction][]int),
		log:            logrus.WithField("node", id),
	}
	w.hasIterated = sync.NewCond(&w.mu)

	var eg errgroup.Group
	eg.Go(func() error {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, cfg.BorderPort))
		if err != nil {
			return tileerrors.Wrap(err, "bind border_port")
		}
		w.borderListener = l
		w.BorderAddr = endpointOf(l.Addr())
		return nil
	})
	eg.Go(func() error {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, cfg.WaitPort))
		if err != nil {
			return tileerrors.Wrap(err, "bind wait_port")
		}
		w.waitListener = l
		w.WaitAddr = endpointOf(l.Addr())
		return nil
	})
	eg.Go(func() error {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, cfg.CellsPort))
		if err != nil {
			return tileerrors.Wrap(err, "bind cells_port")
		}
		w.cellsListener = l
		w.CellsAddr = endpointOf(l.Addr())
		return nil
	})
	if err := eg.Wait(); err != nil {
		cancel()
		return nil, err
	}

	go w.acceptLoop(w.borderListener, w.serveBorderConn)
	go w.acceptLoop(w.waitListener, w.serveWaitConn)
	go w.acceptLoop(w.cellsListener, w.serveCellsConn)

	w.log.WithFields(logrus.Fields{
		"border_port": w.BorderAddr.Port,
		"wait_port":   w.WaitAddr.Port,
		"cells_port":  w.CellsAddr.Port,
	}).Info("tile worker started")

	return w, nil
}

// ID returns the worker's log label.
func (w *Worker) ID() string { return w.id }

// Iteration returns the current generation number.
func (w *Worker) Iteration() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.iteration
}

// Status is a snapshot of worker state for a read-only status endpoint;
// see internal/tilestatus.
type Status struct {
	ID         string   `json:"id"`
	Iteration  int      `json:"iteration"`
	Rows       int      `json:"rows"`
	Cols       int      `json:"cols"`
	Neighbors  []string `json:"neighbors"`
	BorderAddr string   `json:"border_addr"`
	WaitAddr   string   `json:"wait_addr"`
	CellsAddr  string   `json:"cells_addr"`
}

// Status returns a snapshot of the worker's current state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	neighbors := make([]string, 0, len(w.neighbors))
	for d := range w.neighbors {
		neighbors = append(neighbors, d.String())
	}

	return Status{
		ID:         w.id,
		Iteration:  w.iteration,
		Rows:       w.cells.RowCount(),
		Cols:       w.cells.ColCount(),
		Neighbors:  neighbors,
		BorderAddr: w.BorderAddr.String(),
		WaitAddr:   w.WaitAddr.String(),
		CellsAddr:  w.CellsAddr.String(),
	}
}

// acceptLoop runs handle for every inbound connection on l until it closes.
func (w *Worker) acceptLoop(l net.Listener, handle func(net.Conn)) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return // listener closed by Terminate
		}
		go func() {
			defer conn.Close()
			handle(conn)
		}()
	}
}

// Terminate closes all three listeners and cancels any in-flight
// Cells/WaitForCells caller with tileerrors.ErrCanceled.
func (w *Worker) Terminate() {
	w.cancel()
	w.borderListener.Close()
	w.waitListener.Close()
	w.cellsListener.Close()

	w.mu.Lock()
	w.hasIterated.Broadcast()
	w.mu.Unlock()
}

// AddNeighbor records endpoint as the neighbor at d, enforcing that wiring
// only happens before the worker has begun iterating.
func (w *Worker) AddNeighbor(d direction.Direction, endpoint Endpoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.iteration != 0 || len(w.pendingBorders) != 0 || w.borderSent {
		return tileerrors.Wrap(tileerrors.ErrContract, "cannot wire a neighbor after iteration has begun")
	}
	if _, exists := w.neighbors[d]; exists {
		return tileerrors.Wrapf(tileerrors.ErrContract, "worker already has a neighbor to the %s", d)
	}
	w.neighbors[d] = endpoint
	w.log.WithFields(logrus.Fields{"direction": d.String(), "neighbor": endpoint.String()}).Info("wired neighbor")
	return nil
}

// Connect wires a and b as mutual neighbors: a's neighbor to d is b, and
// b's neighbor to d.Opposite() is a.
func Connect(a, b *Worker, d direction.Direction) error {
	if err := a.AddNeighbor(d, b.BorderAddr); err != nil {
		return err
	}
	if err := b.AddNeighbor(d.Opposite(), a.BorderAddr); err != nil {
		a.removeNeighbor(d)
		return err
	}
	return nil
}

// removeNeighbor undoes a partial AddNeighbor after the reciprocal side of
// a Connect call failed.
func (w *Worker) removeNeighbor(d direction.Direction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.neighbors, d)
}
