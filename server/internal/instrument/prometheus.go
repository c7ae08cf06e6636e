// prometheus.go - Prometheus instrumentation.
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

//go:build !noprometheus

// Package instrument exports the rendezvous server metrics.
package instrument

import (
	"context"
	"errors"
	goLog "log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unknownType = "unknown"

var (
	acceptedConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_accepted_connections_total",
			Help: "Number of accepted client connections",
		},
	)
	closedConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_closed_connections_total",
			Help: "Number of closed client connections",
		},
	)
	incomingMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendezvous_incoming_messages_total",
			Help: "Number of incoming messages per type",
		},
		[]string{"type"},
	)
	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_decode_failures_total",
			Help: "Number of discarded lines that were not JSON objects",
		},
	)
	protocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendezvous_protocol_violations_total",
			Help: "Number of dropped messages per type",
		},
		[]string{"type"},
	)
	partnersMatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_pairings_total",
			Help: "Number of client pairings",
		},
	)
	chatsForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rendezvous_chat_messages_forwarded_total",
			Help: "Number of CHAT messages forwarded to a partner",
		},
	)
	clients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rendezvous_clients",
			Help: "Number of connected clients per state",
		},
		[]string{"state"},
	)

	initOnce sync.Once
)

// Init registers the metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			acceptedConns,
			closedConns,
			incomingMessages,
			decodeFailures,
			protocolViolations,
			partnersMatched,
			chatsForwarded,
			clients,
		)
	})
}

// StartPrometheusListener serves the registered metrics over HTTP on addr,
// and returns the function that stops it.
func StartPrometheusListener(addr string, errorLog *goLog.Logger) (func(), error) {
	Init()

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ErrorLog:          errorLog,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("metrics listener failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

// ConnectionAccepted increments the counter for accepted connections.
func ConnectionAccepted() {
	acceptedConns.Inc()
}

// ConnectionClosed increments the counter for closed connections.
func ConnectionClosed() {
	closedConns.Inc()
}

// Incoming increments the counter for incoming messages of msgType.
func Incoming(msgType string) {
	incomingMessages.With(prometheus.Labels{"type": msgType}).Inc()
}

// DecodeFailure increments the counter for undecodable lines.
func DecodeFailure() {
	decodeFailures.Inc()
}

// ProtocolViolation increments the counter for dropped messages of msgType.
func ProtocolViolation(msgType string) {
	if msgType == "" {
		msgType = unknownType
	}
	protocolViolations.With(prometheus.Labels{"type": msgType}).Inc()
}

// PartnersMatched increments the counter for pairings.
func PartnersMatched() {
	partnersMatched.Inc()
}

// ChatForwarded increments the counter for forwarded CHAT messages.
func ChatForwarded() {
	chatsForwarded.Inc()
}

// Clients sets the number of connected clients in state.
func Clients(state string, n int) {
	clients.With(prometheus.Labels{"state": state}).Set(float64(n))
}
