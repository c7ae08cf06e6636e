// prometheus_dummy.go - Disabled instrumentation.
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

//go:build noprometheus

package instrument

import (
	"errors"
	goLog "log"
)

// Init does nothing.
func Init() {}

// StartPrometheusListener fails, metrics are compiled out.
func StartPrometheusListener(addr string, errorLog *goLog.Logger) (func(), error) {
	return nil, errors.New("instrument: built with noprometheus")
}

// ConnectionAccepted does nothing.
func ConnectionAccepted() {}

// ConnectionClosed does nothing.
func ConnectionClosed() {}

// Incoming does nothing.
func Incoming(msgType string) {}

// DecodeFailure does nothing.
func DecodeFailure() {}

// ProtocolViolation does nothing.
func ProtocolViolation(msgType string) {}

// PartnersMatched does nothing.
func PartnersMatched() {}

// ChatForwarded does nothing.
func ChatForwarded() {}

// Clients does nothing.
func Clients(state string, n int) {}
