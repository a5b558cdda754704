package tileworker

import (
	"context"
	"net"

	"github.com/BasicAcid/tileworld/internal/tileerrors"
	"github.com/BasicAcid/tileworld/internal/wire"
)

func newChannel(conn net.Conn) *wire.Channel {
	return wire.New(conn)
}

// serveBorderConn handles one border_port connection: decode the single
// border message it carries and feed it to the receive handler.
func (w *Worker) serveBorderConn(conn net.Conn) {
	ch := newChannel(conn)
	d, strip, err := ch.RecvBorderMessage()
	if err != nil {
		w.log.WithError(err).Warn("border_port: malformed message")
		return
	}
	w.handleIncomingBorder(d, strip)
}

// serveWaitConn handles one wait_port connection: decode the requested
// generation, block until it is reached without initiating a round
// ourselves, and reply with that generation's grid.
func (w *Worker) serveWaitConn(conn net.Conn) {
	ch := newChannel(conn)
	g, err := ch.RecvQuery()
	if err != nil {
		w.log.WithError(err).Warn("wait_port: malformed query")
		return
	}

	cells, err := w.WaitForCells(w.ctx, queryGeneration(g))
	if err != nil {
		w.log.WithError(err).Warn("wait_port: wait failed")
		return
	}
	if err := ch.SendGrid(cells); err != nil {
		w.log.WithError(err).Warn("wait_port: reply failed")
	}
}

// serveCellsConn handles one cells_port connection: decode the requested
// generation, drive or join a round to reach it, and reply with its grid.
func (w *Worker) serveCellsConn(conn net.Conn) {
	ch := newChannel(conn)
	g, err := ch.RecvQuery()
	if err != nil {
		w.log.WithError(err).Warn("cells_port: malformed query")
		return
	}

	cells, err := w.Cells(w.ctx, g)
	if err != nil {
		w.log.WithError(err).Warn("cells_port: query failed")
		return
	}
	if err := ch.SendGrid(cells); err != nil {
		w.log.WithError(err).Warn("cells_port: reply failed")
	}
}

// queryGeneration converts the optional generation a query carries into a
// concrete target: a nil generation means "whatever the current one is",
// which is satisfied immediately by generation 0 at worst.
func queryGeneration(g *int) int {
	if g == nil {
		return 0
	}
	return *g
}

// Cells returns the grid at generation g. In no-neighbor mode it
// self-advances locally until g is reached. In connected mode it joins or
// initiates the distributed barrier round and waits for peers to bring the
// generation up to g. A nil g returns the current grid without advancing
// anything.
func (w *Worker) Cells(ctx context.Context, g *int) ([][]int, error) {
	w.mu.Lock()

	if g == nil {
		cells := w.cells.Snapshot()
		w.mu.Unlock()
		return cells, nil
	}
	target := *g

	if len(w.neighbors) == 0 {
		for w.iteration < target {
			if err := ctx.Err(); err != nil {
				w.mu.Unlock()
				return nil, tileerrors.Wrap(tileerrors.ErrCanceled, "cells: context done")
			}
			w.advanceLocked()
		}
		cells := w.cells.Snapshot()
		w.mu.Unlock()
		return cells, nil
	}

	if w.iteration >= target {
		cells := w.cells.Snapshot()
		w.mu.Unlock()
		return cells, nil
	}
	toSend := w.beginRoundLocked()
	w.mu.Unlock()

	if toSend != nil {
		go w.sendBorders(toSend)
	}

	return w.waitForGeneration(ctx, target)
}

// WaitForCells blocks until generation g is reached, without ever
// initiating a round itself: it only ever observes a round some other
// caller drives.
func (w *Worker) WaitForCells(ctx context.Context, g int) ([][]int, error) {
	return w.waitForGeneration(ctx, g)
}

// waitForGeneration blocks on hasIterated until w.iteration >= g, ctx is
// done, or the worker terminates.
func (w *Worker) waitForGeneration(ctx context.Context, g int) ([][]int, error) {
	stop := context.AfterFunc(ctx, func() {
		w.mu.Lock()
		w.hasIterated.Broadcast()
		w.mu.Unlock()
	})
	defer stop()

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.iteration < g {
		if err := ctx.Err(); err != nil {
			return nil, tileerrors.Wrap(tileerrors.ErrCanceled, "wait_for_cells: context done")
		}
		select {
		case <-w.ctx.Done():
			return nil, tileerrors.Wrap(tileerrors.ErrCanceled, "wait_for_cells: worker terminated")
		default:
		}
		w.hasIterated.Wait()
	}
	return w.cells.Snapshot(), nil
}
