// Package fakestatsd is a UDP server that collects the datagrams a statsd client sends, so
// tests can check the metrics a provider emitted when its spans ended.
package fakestatsd

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
)

type FakeStatsd struct {
	connection *net.UDPConn

	mu      sync.RWMutex
	metrics []Metric
}

// New starts a server on a random local port, it closes when the test ends.
func New(t testing.TB) *FakeStatsd {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp", "localhost:0")
	assert.Assert(t, err)

	conn, err := net.ListenUDP("udp", addr)
	assert.Assert(t, err)

	s := &FakeStatsd{connection: conn}
	go s.listen()
	t.Cleanup(func() {
		_ = s.connection.Close()
	})
	return s
}

func (s *FakeStatsd) Addr() string {
	return s.connection.LocalAddr().String()
}

// Metric is one parsed datagram line, e.g. "vcr.interaction:12.5|ms|#vcr.mode:replay".
type Metric struct {
	Name  string
	Value string
	Type  string
	Tags  []string
}

func (s *FakeStatsd) Metrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]Metric, len(s.metrics))
	copy(metrics, s.metrics)
	return metrics
}

// Named returns the metrics received with the given name.
func (s *FakeStatsd) Named(name string) []Metric {
	var named []Metric
	for _, m := range s.Metrics() {
		if m.Name == name {
			named = append(named, m)
		}
	}
	return named
}

func (s *FakeStatsd) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = nil
}

func (s *FakeStatsd) listen() {
	buffer := make([]byte, 65535)
	for {
		n, err := s.connection.Read(buffer)
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			continue
		}
		for _, raw := range bytes.Split(buffer[:n], []byte("\n")) {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 {
				continue
			}
			if m, ok := parse(string(raw)); ok {
				s.mu.Lock()
				s.metrics = append(s.metrics, m)
				s.mu.Unlock()
			}
		}
	}
}

func parse(raw string) (Metric, bool) {
	name, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Metric{}, false
	}
	parts := strings.Split(rest, "|")
	m := Metric{Name: name, Value: parts[0]}
	if len(parts) > 1 {
		m.Type = parts[1]
	}
	for _, p := range parts[2:] {
		if strings.HasPrefix(p, "#") {
			m.Tags = strings.Split(p[1:], ",")
		}
	}
	return m, true
}
