package memory

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banking-router-poc/server/internal/agent/graph/conversations"
	"github.com/banking-router-poc/server/internal/agent/metrics"
	"github.com/banking-router-poc/server/internal/agent/model"
	errx "github.com/banking-router-poc/server/internal/core/error"
	logx "github.com/banking-router-poc/server/pkg/logger"
)

var (
	defaultNumWorkers   uint = 2
	defaultJobQueueSize uint = 128
	defaultJobTimeout        = 30 * time.Second
)

// Job is one completed exchange whose facts should be stored.
type Job struct {
	UserID    string
	SessionID string
	UserText  string
	AgentText string
	Store     model.MemoryStore
}

// Config is the configuration options for the worker pool.
type Config struct {
	Extractor Extractor

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel.
	QueueSize uint

	// JobTimeout bounds extraction plus the store write of one job.
	JobTimeout time.Duration

	Metrics *metrics.Collector
}

// Pool runs memory extraction off the request path. A full queue drops jobs;
// failures are logged and never reach the user.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates the pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Extractor == nil {
		return nil, fmt.Errorf("memory pool: extractor is nil")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}
	return p, nil
}

// Enqueue submits a job without blocking. It returns false when the job was
// dropped because the queue is full or the pool is closed.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logx.Warn().Str("user_id", job.UserID).Msg("memory job not queued, pool closed")
		p.config.Metrics.MemoryJob("dropped")
		return false
	}

	select {
	case p.queue <- job:
		logx.Debug().Str("user_id", job.UserID).Str("session_id", job.SessionID).Msg("memory job queued")
		return true
	default:
		logx.Warn().Str("user_id", job.UserID).Str("session_id", job.SessionID).Msg("memory job not queued, queue full, job dropped")
		p.config.Metrics.MemoryJob("dropped")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	logx.Debug().Uint("worker_id", id).Msg("memory worker started")

	for job := range p.queue {
		stored, err := p.processJob(job)
		switch {
		case err != nil:
			logx.Warn().Err(err).Str("user_id", job.UserID).Str("session_id", job.SessionID).Msg("memory update skipped")
			p.config.Metrics.MemoryJob("failed")
		case stored == 0:
			p.config.Metrics.MemoryJob("empty")
		default:
			p.config.Metrics.MemoryJob("stored")
		}
	}

	logx.Debug().Uint("worker_id", id).Msg("memory worker stopped")
}

// processJob returns the number of facts added to the user's memory.
func (p *Pool) processJob(job Job) (stored int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errx.MemoryWrite(job.UserID, fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	existing, err := job.Store.Get(ctx, job.UserID)
	if err != nil {
		return 0, errx.MemoryWrite(job.UserID, err)
	}

	facts, err := p.config.Extractor.Extract(ctx, conversations.Facts(existing), job.UserText, job.AgentText)
	if err != nil {
		return 0, errx.MemoryWrite(job.UserID, err)
	}
	if len(facts) == 0 {
		logx.Debug().Str("user_id", job.UserID).Msg("no new facts")
		return 0, nil
	}

	records, err := job.Store.Append(ctx, job.UserID, facts)
	if err != nil {
		return 0, errx.MemoryWrite(job.UserID, err)
	}
	logx.Info().Str("user_id", job.UserID).Int("new_facts", len(records)).Msg("memory updated")
	return len(records), nil
}
