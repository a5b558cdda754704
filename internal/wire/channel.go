// Package wire implements the length-prefixed JSON framed channel every
// tile worker endpoint speaks: a 4-character lowercase hex length prefix
// followed by a compact JSON-encoded payload, capped at 0xFFFF bytes.
package wire

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/BasicAcid/tileworld/internal/direction"
	"github.com/BasicAcid/tileworld/internal/tileerrors"
)

// MaxPayloadBytes is the largest payload a 4-hex-digit length prefix can
// describe.
const MaxPayloadBytes = 0xFFFF

const lengthDigits = 4

// Channel is a bidirectional framed message stream layered on a reliable
// ordered byte transport.
type Channel struct {
	conn net.Conn
	r    *bufio.Reader
}

// New wraps conn as a framed Channel.
func New(conn net.Conn) *Channel {
	return &Channel{conn: conn, r: bufio.NewReader(conn)}
}

// Send encodes v as compact JSON and writes it as one length-prefixed
// frame. It fails with tileerrors.ErrMessageTooLarge if the encoded
// payload exceeds MaxPayloadBytes, or tileerrors.ErrTransport if the
// underlying write fails.
func (c *Channel) Send(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return tileerrors.Wrap(err, "encode payload")
	}
	if len(payload) > MaxPayloadBytes {
		return tileerrors.Wrapf(tileerrors.ErrMessageTooLarge,
			"encoded payload is %d bytes, max is %d", len(payload), MaxPayloadBytes)
	}

	prefix := []byte(fmt.Sprintf("%0*x", lengthDigits, len(payload)))
	if _, err := c.conn.Write(prefix); err != nil {
		return tileerrors.Wrapf(tileerrors.ErrTransport, "write length prefix: %v", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return tileerrors.Wrapf(tileerrors.ErrTransport, "write payload: %v", err)
	}
	return nil
}

// Recv reads one length-prefixed frame and decodes its JSON payload into an
// interface{} (numbers as float64, per encoding/json's default behavior).
// Short reads, a non-hex length, or a truncated payload fail with
// tileerrors.ErrFraming.
func (c *Channel) Recv() (interface{}, error) {
	payload, err := c.recvPayload()
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, tileerrors.Wrap(tileerrors.ErrFraming, "decode payload: "+err.Error())
	}
	return v, nil
}

func (c *Channel) recvPayload() ([]byte, error) {
	lenBytes := make([]byte, lengthDigits)
	if _, err := io.ReadFull(c.r, lenBytes); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, tileerrors.Wrap(tileerrors.ErrFraming, "short read on length prefix")
		}
		return nil, tileerrors.Wrap(tileerrors.ErrTransport, "read length prefix")
	}

	n, err := hex.DecodeString(string(lenBytes))
	if err != nil || len(n) != 2 {
		return nil, tileerrors.Wrapf(tileerrors.ErrFraming, "malformed length prefix %q", lenBytes)
	}
	length := int(n[0])<<8 | int(n[1])

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, tileerrors.Wrap(tileerrors.ErrFraming, "truncated payload")
		}
		return nil, tileerrors.Wrap(tileerrors.ErrTransport, "read payload")
	}
	return payload, nil
}

// Close closes the underlying connection. It does not guard against
// repeated calls: a second call returns whatever the connection reports
// for closing an already-closed connection (net.ErrClosed for TCP).
func (c *Channel) Close() error {
	return c.conn.Close()
}

// SendGrid sends a grid snapshot as a sequence of sequences of integers,
// the cells_port/wait_port reply body.
func (c *Channel) SendGrid(cells [][]int) error {
	return c.Send(cells)
}

// RecvGrid reads a framed grid reply.
func (c *Channel) RecvGrid() ([][]int, error) {
	v, err := c.Recv()
	if err != nil {
		return nil, err
	}
	rows, ok := v.([]interface{})
	if !ok {
		return nil, tileerrors.Wrap(tileerrors.ErrFraming, "grid payload is not an array")
	}
	cells := make([][]int, len(rows))
	for r, rowVal := range rows {
		row, ok := rowVal.([]interface{})
		if !ok {
			return nil, tileerrors.Wrapf(tileerrors.ErrFraming, "grid row %d is not an array", r)
		}
		cells[r] = make([]int, len(row))
		for c, cellVal := range row {
			n, ok := cellVal.(float64)
			if !ok {
				return nil, tileerrors.Wrapf(tileerrors.ErrFraming, "grid cell [%d][%d] is not a number", r, c)
			}
			cells[r][c] = int(n)
		}
	}
	return cells, nil
}

// SendQuery sends the cells_port/wait_port request body: null when g is
// nil, or the non-negative generation g points to.
func (c *Channel) SendQuery(g *int) error {
	if g == nil {
		return c.Send(nil)
	}
	return c.Send(*g)
}

// RecvQuery decodes a cells_port/wait_port request body back into an
// optional generation.
func (c *Channel) RecvQuery() (*int, error) {
	v, err := c.Recv()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	n, ok := v.(float64)
	if !ok {
		return nil, tileerrors.Wrap(tileerrors.ErrFraming, "query payload is not null or a number")
	}
	g := int(n)
	return &g, nil
}

// borderMessage is the border_port request body: exactly one entry mapping
// a direction name to its border strip.
type borderMessage map[string][]int

// SendBorderMessage sends {direction.String(): strip} to the peer.
func (c *Channel) SendBorderMessage(d direction.Direction, strip []int) error {
	return c.Send(borderMessage{d.String(): strip})
}

// RecvBorderMessage decodes a border_port request body.
func (c *Channel) RecvBorderMessage() (direction.Direction, []int, error) {
	v, err := c.Recv()
	if err != nil {
		return 0, nil, err
	}
	obj, ok := v.(map[string]interface{})
	if !ok || len(obj) != 1 {
		return 0, nil, tileerrors.Wrap(tileerrors.ErrContract, "border message must have exactly one entry")
	}

	for name, stripVal := range obj {
		d, ok := direction.Parse(name)
		if !ok {
			return 0, nil, tileerrors.Wrapf(tileerrors.ErrContract, "unknown direction name %q", name)
		}
		stripSlice, ok := stripVal.([]interface{})
		if !ok {
			return 0, nil, tileerrors.Wrap(tileerrors.ErrContract, "border strip is not an array")
		}
		strip := make([]int, len(stripSlice))
		for i, cellVal := range stripSlice {
			n, ok := cellVal.(float64)
			if !ok {
				return 0, nil, tileerrors.Wrapf(tileerrors.ErrContract, "border strip element %d is not a number", i)
			}
			strip[i] = int(n)
		}
		return d, strip, nil
	}
	panic("unreachable: len(obj) == 1")
}
