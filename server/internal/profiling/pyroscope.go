// pyroscope.go - Continuous profiling.
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

//go:build pyroscope

// Package profiling pushes continuous profiles to a Pyroscope server.
package profiling

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/grafana/pyroscope-go"

	"github.com/katzenpost/rendezvous/server/config"
)

type pyroscopeLogger struct {
	log *logging.Logger
}

func (l *pyroscopeLogger) Infof(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func (l *pyroscopeLogger) Debugf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

func (l *pyroscopeLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

// Start starts pushing profiles as configured by cfg, and returns the
// function that stops it.
func Start(cfg *config.Profiling, log *logging.Logger) (func(), error) {
	if cfg.ServerAddress == "" {
		return func() {}, nil
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          &pyroscopeLogger{log},
		Tags: map[string]string{
			"service": cfg.ServiceTag,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Noticef("Pyroscope started at %s, app name: %s, service tag: %s", cfg.ServerAddress, cfg.ApplicationName, cfg.ServiceTag)
	return func() {
		if err := p.Stop(); err != nil {
			log.Warningf("Failed to stop Pyroscope: %v", err)
		}
	}, nil
}
