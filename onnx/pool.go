package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
)

const (
	DefaultPoolSize          = 4
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultHealthCheckPeriod = 60 * time.Second
)

// Model is the part of a Session the pool needs.
type Model interface {
	Run(input []float32) ([]float32, error)
	Destroy()
}

// Factory creates a fresh model instance for the pool.
type Factory func() (Model, error)

type PoolConfig struct {
	Size              int
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Size <= 0 {
		c.Size = DefaultPoolSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	return c
}

// Pool hands out exclusive access to a fixed number of model sessions. Sessions
// that fail are discarded and recreated by the periodic health check.
type Pool struct {
	name     string
	sessions chan Model
	factory  Factory
	cfg      PoolConfig
	stop     chan struct{}

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error

	metrics *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

func NewPool(name string, factory Factory, cfg PoolConfig) (*Pool, error) {
	cfg = cfg.withDefaults()
	pool := &Pool{
		name:     name,
		sessions: make(chan Model, cfg.Size),
		factory:  factory,
		cfg:      cfg,
		stop:     make(chan struct{}),
		metrics:  &PoolMetrics{},
	}

	for i := 0; i < cfg.Size; i++ {
		session, err := factory()
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize %s session %d: %w", name, i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *Pool) Acquire(ctx context.Context) (Model, error) {
	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, inference.NewError(inference.KindUnavailable, "model pool is closed", nil)
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, inference.NewError(inference.KindUnavailable, "timeout waiting for available session", nil)
	case <-ctx.Done():
		return nil, inference.NewError(inference.KindUnavailable, "request cancelled while waiting for session", ctx.Err())
	}
}

func (p *Pool) Release(session Model) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that failed instead of returning it to the pool.
func (p *Pool) Discard(session Model, cause error) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	session.Destroy()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.live--
	p.appendError(cause)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
		p.live--
	}
}

func (p *Pool) healthCheck() {
	ticker := time.NewTicker(p.cfg.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish recreates discarded sessions until the pool is back at its configured size.
func (p *Pool) replenish() {
	p.mu.Lock()
	missing := p.cfg.Size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			slog.Warn("session replenish failed", "pool", p.name, "error", err)
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
		p.mu.Unlock()
	}
}

func (p *Pool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendError(err)
}

func (p *Pool) appendError(err error) {
	if err == nil {
		return
	}
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *Pool) Stats() models.PoolStats {
	p.metrics.mu.RLock()
	stats := models.PoolStats{
		Name:            p.name,
		Size:            p.cfg.Size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTimeMs:      float64(p.metrics.waitTime) / float64(time.Millisecond),
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	stats.Live = p.live
	if n := len(p.lastErrors); n > 0 {
		stats.LastError = p.lastErrors[n-1].Error()
	}
	p.mu.Unlock()

	return stats
}
