package server

import (
	"net/http"
	"sync"
	"time"
)

type routeCounters struct {
	Total        int64   `json:"total"`
	ClientErrors int64   `json:"client_errors"`
	ServerErrors int64   `json:"server_errors"`
	TotalMs      float64 `json:"total_ms"`
}

type requestMetrics struct {
	mu     sync.Mutex
	routes map[string]*routeCounters
}

func newRequestMetrics() *requestMetrics {
	return &requestMetrics{routes: make(map[string]*routeCounters)}
}

var trackedRoutes = map[string]bool{
	"/predict": true,
	"/detect":  true,
	"/analyze": true,
}

func (m *requestMetrics) observe(path string, status int, elapsed time.Duration) {
	if !trackedRoutes[path] {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.routes[path]
	if !ok {
		c = &routeCounters{}
		m.routes[path] = c
	}
	c.Total++
	c.TotalMs += float64(elapsed) / float64(time.Millisecond)
	switch {
	case status >= http.StatusInternalServerError:
		c.ServerErrors++
	case status >= http.StatusBadRequest:
		c.ClientErrors++
	}
}

func (m *requestMetrics) snapshot() map[string]routeCounters {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]routeCounters, len(m.routes))
	for path, c := range m.routes {
		out[path] = *c
	}
	return out
}
