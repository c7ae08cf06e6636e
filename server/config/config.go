// config.go - Rendezvous server configuration.
// Copyright (C) 2017  Yawning Angel and David Stainton.
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

// Package config provides the rendezvous server configuration.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/idna"
)

const (
	defaultAddress           = "tcp://0.0.0.0:7070"
	defaultLogLevel          = "NOTICE"
	defaultMaxLineLength     = 1 << 20   // 1 MiB.
	defaultKeepAliveInterval = 180 * 1000 // 3 min.
	defaultEventQueueLength  = 1024
	defaultManagementSocket  = "management_sock"
	defaultApplicationName   = "rendezvous"

	// SchemeTCP and friends are the supported listener URL schemes.
	SchemeTCP       = "tcp"
	SchemeTCP4      = "tcp4"
	SchemeTCP6      = "tcp6"
	SchemeQUIC      = "quic"
	SchemeWebSocket = "ws"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the rendezvous server configuration.
type Server struct {
	// Identifier is the human readable identifier for the server (eg: FQDN).
	Identifier string

	// Addresses are the listener addresses the server binds to, as URLs
	// (eg: `tcp://0.0.0.0:7070`, `quic://[::]:7071`, `ws://0.0.0.0:7072`).
	Addresses []string

	// MetricsAddress is the address/port to bind the prometheus metrics
	// endpoint to.  If empty, metrics are not served.
	MetricsAddress string

	// DataDir is the absolute path to the server's state files, if any.
	DataDir string
}

func (sCfg *Server) validate() error {
	if sCfg.Identifier == "" {
		return errors.New("config: Server: Identifier is not set")
	}

	if len(sCfg.Addresses) == 0 {
		sCfg.Addresses = []string{defaultAddress}
	}
	for _, v := range sCfg.Addresses {
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("config: Server: Address '%v' is invalid: %v", v, err)
		}
		switch u.Scheme {
		case SchemeTCP, SchemeTCP4, SchemeTCP6, SchemeQUIC, SchemeWebSocket:
		default:
			return fmt.Errorf("config: Server: Address '%v' has unsupported scheme '%v'", v, u.Scheme)
		}
		if u.Port() == "" {
			return fmt.Errorf("config: Server: Address '%v' is invalid: Must contain Port", v)
		}
	}

	if sCfg.DataDir != "" && !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.MetricsAddress != "" {
		if _, err := netip.ParseAddrPort(sCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Server: MetricsAddress '%v' is invalid: %v", sCfg.MetricsAddress, err)
		}
	}
	return nil
}

// Debug is the rendezvous server debug configuration.
type Debug struct {
	// MaxLineLength is the maximum length of a single inbound line in
	// bytes.  A client that sends a longer line is disconnected.
	MaxLineLength int

	// KeepAliveInterval is the TCP/IP KeepAlive interval in milliseconds.
	KeepAliveInterval int

	// EventQueueLength is the capacity of the queue feeding the
	// rendezvous event loop.
	EventQueueLength int
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.MaxLineLength <= 0 {
		dCfg.MaxLineLength = defaultMaxLineLength
	}
	if dCfg.KeepAliveInterval <= 0 {
		dCfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if dCfg.EventQueueLength <= 0 {
		dCfg.EventQueueLength = defaultEventQueueLength
	}
}

// Logging is the rendezvous server logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Management is the rendezvous management interface configuration.
type Management struct {
	// Enable enables the management interface.
	Enable bool

	// Path specifies the path to the management interface socket.  If left
	// empty it will use `management_sock` under the DataDir.
	Path string
}

func (mCfg *Management) applyDefaults(sCfg *Server) {
	if mCfg.Path == "" && sCfg.DataDir != "" {
		mCfg.Path = filepath.Join(sCfg.DataDir, defaultManagementSocket)
	}
}

func (mCfg *Management) validate() error {
	if !mCfg.Enable {
		return nil
	}
	if !filepath.IsAbs(mCfg.Path) {
		return fmt.Errorf("config: Management: Path '%v' is not an absolute path", mCfg.Path)
	}
	return nil
}

// Profiling is the continuous profiling configuration.  Profiles are only
// pushed by binaries built with the `pyroscope` tag.
type Profiling struct {
	// ServerAddress is the URL of the Pyroscope server.  If empty,
	// profiling is disabled.
	ServerAddress string

	// ApplicationName is the name profiles are filed under.
	ApplicationName string

	// ServiceTag is the value of the `service` tag, defaulting to the
	// server Identifier.
	ServiceTag string
}

func (pCfg *Profiling) applyDefaults(sCfg *Server) {
	if pCfg.ApplicationName == "" {
		pCfg.ApplicationName = defaultApplicationName
	}
	if pCfg.ServiceTag == "" {
		pCfg.ServiceTag = sCfg.Identifier
	}
}

func (pCfg *Profiling) validate() error {
	if pCfg.ServerAddress == "" {
		return nil
	}
	u, err := url.Parse(pCfg.ServerAddress)
	if err != nil {
		return fmt.Errorf("config: Profiling: ServerAddress '%v' is invalid: %v", pCfg.ServerAddress, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: Profiling: ServerAddress '%v' is not an HTTP URL", pCfg.ServerAddress)
	}
	return nil
}

// Config is the top level rendezvous server configuration.
type Config struct {
	Server     *Server
	Logging    *Logging
	Management *Management
	Profiling  *Profiling

	Debug *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	// The Server section is mandatory, everything else is optional.
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Management == nil {
		cfg.Management = &Management{}
	}
	cfg.Management.applyDefaults(cfg.Server)
	if cfg.Profiling == nil {
		cfg.Profiling = &Profiling{}
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Management.validate(); err != nil {
		return err
	}
	if err := cfg.Profiling.validate(); err != nil {
		return err
	}
	cfg.Debug.applyDefaults()

	var err error
	cfg.Server.Identifier, err = idna.Lookup.ToASCII(cfg.Server.Identifier)
	if err != nil {
		return fmt.Errorf("config: Failed to normalize Identifier: %v", err)
	}
	cfg.Profiling.applyDefaults(cfg.Server)

	return nil
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	if b == nil {
		return nil, errors.New("No nil buffer as config file")
	}

	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
