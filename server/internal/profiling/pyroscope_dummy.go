// pyroscope_dummy.go - Continuous profiling stub.
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

//go:build !pyroscope

// Package profiling pushes continuous profiles to a Pyroscope server.
package profiling

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/rendezvous/server/config"
)

// Start does nothing, as Pyroscope support is not compiled in.
func Start(cfg *config.Profiling, log *logging.Logger) (func(), error) {
	if cfg.ServerAddress != "" {
		log.Warningf("Profiling to %v requested, but Pyroscope is disabled in this build", cfg.ServerAddress)
	}
	return func() {}, nil
}
