// Command tilectl is a small client for a running tileworker process: it
// dials cells_port or wait_port, requests a generation's grid, and prints
// it as JSON. Grounded on original_source/dgol/process.py's cells() client
// method (dial, recv, close).
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BasicAcid/tileworld/internal/wire"
)

func main() {
	root := &cobra.Command{
		Use:   "tilectl",
		Short: "query a running tileworker process",
	}
	root.AddCommand(cellsCmd())
	root.AddCommand(waitCmd())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("tilectl exited")
	}
}

func cellsCmd() *cobra.Command {
	var addr string
	var generation int
	var hasGeneration bool

	cmd := &cobra.Command{
		Use:   "cells",
		Short: "request a tile's grid at a generation, driving the round if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var g *int
			if hasGeneration {
				g = &generation
			}
			return query(addr, g)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "cells_port address, host:port")
	cmd.Flags().IntVar(&generation, "generation", 0, "generation to request")
	cmd.Flags().BoolVar(&hasGeneration, "at", false, "set to request a specific generation instead of the current grid")
	cmd.MarkFlagRequired("addr")
	return cmd
}

func waitCmd() *cobra.Command {
	var addr string
	var generation int

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "block until a tile reaches a generation, without driving the round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return query(addr, &generation)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "wait_port address, host:port")
	cmd.Flags().IntVar(&generation, "generation", 1, "generation to wait for")
	cmd.MarkFlagRequired("addr")
	return cmd
}

func query(addr string, generation *int) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ch := wire.New(conn)
	if err := ch.SendQuery(generation); err != nil {
		return fmt.Errorf("send query: %w", err)
	}

	cells, err := ch.RecvGrid()
	if err != nil {
		return fmt.Errorf("recv grid: %w", err)
	}

	return json.NewEncoder(os.Stdout).Encode(cells)
}
