// Command tilecluster spawns a rectangular grid of tileworker processes
// and wires each one to its UP/DOWN/LEFT/RIGHT neighbors via fixed, precomputed
// ports, so no discovery step is needed before the processes can dial each
// other's border_port.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NodeInfo describes one spawned tileworker process.
type NodeInfo struct {
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	BorderPort int    `json:"border_port"`
	WaitPort   int    `json:"wait_port"`
	CellsPort  int    `json:"cells_port"`
	PID        int    `json:"pid"`
	process    *exec.Cmd
}

// Cluster manages a grid of tileworker processes.
type Cluster struct {
	rows, cols      int
	baseBorderPort  int
	baseWaitPort    int
	baseCellsPort   int
	tileRows        int
	tileCols        int
	binary          string
	pidFile         string

	mu    sync.RWMutex
	nodes map[int]*NodeInfo
}

func index(row, col, cols int) int { return row*cols + col }

func (c *Cluster) nodePorts(i int) (border, wait, cells int) {
	return c.baseBorderPort + i, c.baseWaitPort + i, c.baseCellsPort + i
}

// Start spawns every tileworker process and wires their UP/DOWN/LEFT/RIGHT
// neighbors using the ports it precomputed.
func (c *Cluster) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[int]*NodeInfo, c.rows*c.cols)

	for r := 0; r < c.rows; r++ {
		for col := 0; col < c.cols; col++ {
			i := index(r, col, c.cols)
			border, wait, cells := c.nodePorts(i)

			cellsFile, err := writeBlankCells(c.tileRows, c.tileCols)
			if err != nil {
				return fmt.Errorf("tile (%d,%d): %w", r, col, err)
			}

			args := []string{
				"--host", "127.0.0.1",
				"--border-port", strconv.Itoa(border),
				"--wait-port", strconv.Itoa(wait),
				"--cells-port", strconv.Itoa(cells),
				"--cells-file", cellsFile,
				"--node-id", fmt.Sprintf("tile-%d-%d", r, col),
			}
			if col+1 < c.cols {
				rb, _, _ := c.nodePorts(index(r, col+1, c.cols))
				args = append(args, "--neighbor", fmt.Sprintf("RIGHT=127.0.0.1:%d", rb))
			}
			if col > 0 {
				lb, _, _ := c.nodePorts(index(r, col-1, c.cols))
				args = append(args, "--neighbor", fmt.Sprintf("LEFT=127.0.0.1:%d", lb))
			}
			if r+1 < c.rows {
				db, _, _ := c.nodePorts(index(r+1, col, c.cols))
				args = append(args, "--neighbor", fmt.Sprintf("DOWN=127.0.0.1:%d", db))
			}
			if r > 0 {
				ub, _, _ := c.nodePorts(index(r-1, col, c.cols))
				args = append(args, "--neighbor", fmt.Sprintf("UP=127.0.0.1:%d", ub))
			}

			cmd := exec.Command(c.binary, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("start tile (%d,%d): %w", r, col, err)
			}

			c.nodes[i] = &NodeInfo{
				Row: r, Col: col,
				BorderPort: border, WaitPort: wait, CellsPort: cells,
				PID: cmd.Process.Pid, process: cmd,
			}
			// Give the bound process a moment to claim its fixed ports
			// before the next one starts dialing them.
			time.Sleep(50 * time.Millisecond)
		}
	}

	return c.savePIDFile()
}

// Stop signals every spawned process to terminate.
func (c *Cluster) Stop() error {
	if err := c.loadPIDFile(); err != nil {
		return fmt.Errorf("no cluster found: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, n := range c.nodes {
		proc, err := os.FindProcess(n.PID)
		if err != nil {
			logrus.WithError(err).Warnf("failed to find tile %d", i)
			continue
		}
		if err := proc.Kill(); err != nil {
			logrus.WithError(err).Warnf("failed to kill tile %d", i)
		}
	}
	return os.Remove(c.pidFile)
}

// PrintStatus prints the node table tilecluster is tracking.
func (c *Cluster) PrintStatus() error {
	if err := c.loadPIDFile(); err != nil {
		return fmt.Errorf("no cluster found: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 0; i < c.rows*c.cols; i++ {
		n, ok := c.nodes[i]
		if !ok {
			continue
		}
		fmt.Printf("tile (%d,%d): pid=%d border=%d wait=%d cells=%d\n",
			n.Row, n.Col, n.PID, n.BorderPort, n.WaitPort, n.CellsPort)
	}
	return nil
}

// savePIDFile writes the node table to the state file. Must be called with
// c.mu held.
func (c *Cluster) savePIDFile() error {
	data, err := json.MarshalIndent(c.nodes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.pidFile, data, 0o644)
}

func (c *Cluster) loadPIDFile() error {
	data, err := os.ReadFile(c.pidFile)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Unmarshal(data, &c.nodes)
}

func writeBlankCells(rows, cols int) (string, error) {
	cells := make([][]int, rows)
	for r := range cells {
		cells[r] = make([]int, cols)
	}
	f, err := os.CreateTemp("", "tilecluster-cells-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(cells); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func main() {
	var rows, cols, tileRows, tileCols int
	var baseBorderPort, baseWaitPort, baseCellsPort int
	var binary, pidFile string

	newCluster := func() *Cluster {
		return &Cluster{
			rows: rows, cols: cols,
			tileRows: tileRows, tileCols: tileCols,
			baseBorderPort: baseBorderPort, baseWaitPort: baseWaitPort, baseCellsPort: baseCellsPort,
			binary: binary, pidFile: pidFile,
		}
	}

	root := &cobra.Command{Use: "tilecluster", Short: "spawn and manage a grid of tileworker processes"}
	root.PersistentFlags().IntVar(&rows, "rows", 2, "number of tile rows")
	root.PersistentFlags().IntVar(&cols, "cols", 2, "number of tile columns")
	root.PersistentFlags().IntVar(&tileRows, "tile-rows", 8, "rows per tile's grid")
	root.PersistentFlags().IntVar(&tileCols, "tile-cols", 8, "columns per tile's grid")
	root.PersistentFlags().IntVar(&baseBorderPort, "base-border-port", 9101, "border_port of tile (0,0)")
	root.PersistentFlags().IntVar(&baseWaitPort, "base-wait-port", 9201, "wait_port of tile (0,0)")
	root.PersistentFlags().IntVar(&baseCellsPort, "base-cells-port", 9301, "cells_port of tile (0,0)")
	root.PersistentFlags().StringVar(&binary, "binary", "tileworker", "path to the tileworker binary")
	root.PersistentFlags().StringVar(&pidFile, "pid-file", "tilecluster.json", "path to the cluster state file")

	root.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "spawn the cluster",
		RunE:  func(cmd *cobra.Command, args []string) error { return newCluster().Start() },
	})
	root.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "terminate the cluster",
		RunE:  func(cmd *cobra.Command, args []string) error { return newCluster().Stop() },
	})
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "list running tile processes",
		RunE:  func(cmd *cobra.Command, args []string) error { return newCluster().PrintStatus() },
	})

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("tilecluster exited")
	}
}
