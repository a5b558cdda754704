package tileworker

import (
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/BasicAcid/tileworld/internal/direction"
	"github.com/BasicAcid/tileworld/internal/tileerrors"
)

// outgoingBorder pairs a neighbor's endpoint with the strip snapshotted to
// send it.
type outgoingBorder struct {
	endpoint Endpoint
	strip    []int
}

// handleIncomingBorder implements R1: receive a neighbor's border,
// possibly trigger R2 (our own send, once per round) and R3 (advance, once
// every neighbor has reported in).
func (w *Worker) handleIncomingBorder(from direction.Direction, strip []int) {
	w.mu.Lock()

	for {
		if _, stillPending := w.pendingBorders[from]; !stillPending {
			break
		}
		// A previous round's exchange from this neighbor is still
		// outstanding; block until the round advances.
		w.hasIterated.Wait()
	}

	w.pendingBorders[from] = strip

	var toSend map[direction.Direction]outgoingBorder
	if !w.borderSent {
		w.borderSent = true
		toSend = w.snapshotOutgoingBordersLocked()
	}

	if len(w.pendingBorders) == len(w.neighbors) {
		w.advanceLocked()
	}

	w.mu.Unlock()

	if toSend != nil {
		go w.sendBorders(toSend)
	}
}

// snapshotOutgoingBordersLocked reads the current grid's border strips for
// every wired neighbor. Must be called with w.mu held, and before any
// advance the pending round might trigger, so the strips sent reflect the
// generation this round is advancing from.
func (w *Worker) snapshotOutgoingBordersLocked() map[direction.Direction]outgoingBorder {
	out := make(map[direction.Direction]outgoingBorder, len(w.neighbors))
	for d, endpoint := range w.neighbors {
		out[d] = outgoingBorder{endpoint: endpoint, strip: w.cells.BorderAt(d)}
	}
	return out
}

// sendBorders implements R2: dial every neighbor concurrently and send it
// our border strip, fire-and-forget. A failed send is logged; there is no
// retry, and the round simply stalls for that neighbor.
func (w *Worker) sendBorders(borders map[direction.Direction]outgoingBorder) {
	var eg errgroup.Group
	for d, ob := range borders {
		d, ob := d, ob
		eg.Go(func() error {
			conn, err := net.Dial("tcp", ob.endpoint.String())
			if err != nil {
				return tileerrors.Wrapf(tileerrors.ErrTransport, "dial neighbor %s at %s", d, ob.endpoint)
			}
			defer conn.Close()

			ch := newChannel(conn)
			if err := ch.SendBorderMessage(d.Opposite(), ob.strip); err != nil {
				return tileerrors.Wrapf(tileerrors.ErrTransport, "send border to %s", ob.endpoint)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		w.log.WithError(err).Warn("border send failed; round will stall for that neighbor")
	}
}

// advanceLocked implements R3. Must be called with w.mu held.
func (w *Worker) advanceLocked() {
	next, err := w.cells.Iterate(w.pendingBorders)
	if err != nil {
		// A border length mismatch here is a peer contract violation we
		// cannot recover generation consistency from; the grid, the
		// iteration and the round's pending state are left as they are,
		// so the round stalls and the caller observes the stall.
		w.log.WithError(err).Error("advance failed: malformed neighbor border")
		return
	}

	w.cells = next
	w.iteration++
	w.pendingBorders = make(map[direction.Direction][]int, len(w.neighbors))
	w.borderSent = false

	w.log.WithField("iteration", w.iteration).Info("advanced to new generation")
	w.hasIterated.Broadcast()
}

// beginRoundLocked implements the local-call initiation path: if we have
// not yet sent our border this round, do so now and let neighbors drive
// the rest of the round. Must be called with w.mu held; returns a non-nil
// snapshot to dispatch once w.mu is released.
func (w *Worker) beginRoundLocked() map[direction.Direction]outgoingBorder {
	if w.borderSent || len(w.neighbors) == 0 {
		return nil
	}
	w.borderSent = true
	return w.snapshotOutgoingBordersLocked()
}
