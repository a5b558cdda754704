// Command tileworker runs a single tile process: it owns one rectangular
// grid, exposes three endpoints (border, wait, cells), and advances
// generations in lockstep with whatever neighbors it is wired to.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BasicAcid/tileworld/internal/direction"
	"github.com/BasicAcid/tileworld/internal/tileerrors"
	"github.com/BasicAcid/tileworld/internal/tilestatus"
	"github.com/BasicAcid/tileworld/internal/tileworker"
)

var (
	host        string
	borderPort  int
	waitPort    int
	cellsPort   int
	statusPort  int
	cellsFile   string
	nodeID      string
	neighborArg []string
)

func main() {
	root := &cobra.Command{
		Use:   "tileworker",
		Short: "run a single Game of Life tile process",
		RunE:  run,
	}

	root.Flags().StringVar(&host, "host", "127.0.0.1", "interface to bind the three listeners on")
	root.Flags().IntVar(&borderPort, "border-port", 0, "border_port to bind (0 lets the OS assign one)")
	root.Flags().IntVar(&waitPort, "wait-port", 0, "wait_port to bind (0 lets the OS assign one)")
	root.Flags().IntVar(&cellsPort, "cells-port", 0, "cells_port to bind (0 lets the OS assign one)")
	root.Flags().IntVar(&statusPort, "status-port", 0, "HTTP status port (0 disables it)")
	root.Flags().StringVar(&cellsFile, "cells-file", "", "path to a JSON file holding the initial grid ([][]int)")
	root.Flags().StringVar(&nodeID, "node-id", "", "node identifier (auto-generated if empty)")
	root.Flags().StringArrayVar(&neighborArg, "neighbor", nil, "DIRECTION=host:port, repeatable")
	root.MarkFlagRequired("cells-file")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("tileworker exited")
	}
}

func run(cmd *cobra.Command, args []string) error {
	cells, err := loadCells(cellsFile)
	if err != nil {
		return fmt.Errorf("load cells file: %w", err)
	}

	w, err := tileworker.Start(tileworker.Config{
		Host:       host,
		BorderPort: borderPort,
		WaitPort:   waitPort,
		CellsPort:  cellsPort,
		Cells:      cells,
		ID:         nodeID,
	})
	if err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	for _, spec := range neighborArg {
		d, endpoint, err := parseNeighbor(spec)
		if err != nil {
			return fmt.Errorf("neighbor %q: %w", spec, err)
		}
		if err := w.AddNeighbor(d, endpoint); err != nil {
			return fmt.Errorf("wire neighbor %q: %w", spec, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if statusPort != 0 {
		status := tilestatus.New(statusPort, w)
		if err := status.Start(ctx); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"id":          w.ID(),
		"border_addr": w.BorderAddr,
		"wait_addr":   w.WaitAddr,
		"cells_addr":  w.CellsAddr,
	}).Info("tileworker ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logrus.Info("shutting down")
	cancel()
	w.Terminate()
	return nil
}

func loadCells(path string) ([][]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cells [][]int
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, tileerrors.Wrap(err, "decode cells file")
	}
	return cells, nil
}

// parseNeighbor parses "DIRECTION=host:port" into a direction and endpoint.
func parseNeighbor(spec string) (direction.Direction, tileworker.Endpoint, error) {
	name, addr, ok := strings.Cut(spec, "=")
	if !ok {
		return 0, tileworker.Endpoint{}, fmt.Errorf("expected DIRECTION=host:port")
	}
	d, ok := direction.Parse(strings.ToUpper(name))
	if !ok {
		return 0, tileworker.Endpoint{}, fmt.Errorf("unknown direction %q", name)
	}
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return 0, tileworker.Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, tileworker.Endpoint{}, fmt.Errorf("bad port %q", portStr)
	}
	return d, tileworker.Endpoint{Host: host, Port: port}, nil
}

func splitHostPort(addr string) (string, string, error) {
	host, port, ok := strings.Cut(addr, ":")
	if !ok || host == "" || port == "" {
		return "", "", fmt.Errorf("expected host:port, got %q", addr)
	}
	return host, port, nil
}
