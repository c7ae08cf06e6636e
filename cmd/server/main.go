// main.go - Rendezvous server binary.
// Copyright (C) 2017  Yawning Angel.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/rendezvous/common"
	"github.com/katzenpost/rendezvous/server"
	"github.com/katzenpost/rendezvous/server/config"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile   string
	ValidateOnly bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Anonymous chat rendezvous server",
		Long: `The rendezvous server pairs anonymous chat clients.

Clients connect, publish their end to end encryption parameters with JOIN,
and ask to be paired with a random stranger with SEARCH.  Once paired, the
server relays opaque CHAT payloads between the two, and tells the survivor
when its partner leaves.  Nothing is persisted.

Clients may connect over TCP, QUIC or WebSocket, speaking newline delimited
JSON in every case.`,
		Example: `  # Start server with default configuration
  server

  # Start server with custom configuration file
  server --config /etc/rendezvous/server.toml

  # Check a configuration file and exit
  server -f /etc/rendezvous/server.toml --validate-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "rendezvous.toml",
		"path to the server configuration file (TOML format)")
	cmd.Flags().BoolVar(&cfg.ValidateOnly, "validate-only", false,
		"load and validate the configuration file, then exit")

	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func runServer(cmd *cobra.Command, cfg Config) error {
	// Set the umask to something "paranoid".
	setUmask(0077)

	serverCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	if cfg.ValidateOnly {
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file '%v' is valid.\n", cfg.ConfigFile)
		return nil
	}

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	// Start up the server.
	svr, err := server.New(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to spawn server instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the server gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Rotate server logs upon SIGHUP.
	go func() {
		for range rotateCh {
			svr.RotateLog()
		}
	}()

	// Wait for the server to explode or be terminated.
	svr.Wait()
	return nil
}
