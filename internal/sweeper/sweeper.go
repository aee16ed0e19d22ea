package sweeper

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/ts-guardian/internal/alerts"
	"github.com/technosupport/ts-guardian/internal/metrics"
)

const (
	candidateBatchSize = 200
	opTimeout          = 10 * time.Second
)

// AlertExpirer is the slice of the engine the sweeper needs.
type AlertExpirer interface {
	ListExpiredCandidates(ctx context.Context, limit int) ([]uuid.UUID, error)
	Expire(ctx context.Context, id uuid.UUID) error
}

// Config defines parameters
type Config struct {
	Interval       time.Duration
	WorkerPoolSize int
}

// Sweeper forces active alerts past their window into the expired state. It
// is a liveness mechanism only: the CAS guard at the store makes a duplicate
// expire (from another instance, or racing a human resolve) a harmless no-op.
type Sweeper struct {
	config  Config
	service AlertExpirer
	quit    chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config, svc AlertExpirer) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 4
	}
	return &Sweeper{
		config:  cfg,
		service: svc,
		quit:    make(chan struct{}),
	}
}

// Start initiates the sweep loop. Runs outside any request path.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	jobQueue := make(chan uuid.UUID, s.config.WorkerPoolSize*2)

	for i := 0; i < s.config.WorkerPoolSize; i++ {
		s.wg.Add(1)
		go s.worker(jobQueue)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Initial run
	s.dispatchSweep(jobQueue)

	for {
		select {
		case <-ticker.C:
			s.dispatchSweep(jobQueue)
		case <-s.quit:
			close(jobQueue)
			return
		}
	}
}

func (s *Sweeper) worker(jobs <-chan uuid.UUID) {
	defer s.wg.Done()

	for id := range jobs {
		// Jitter so N workers don't slam the store in lockstep.
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		err := s.service.Expire(ctx, id)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, alerts.ErrAlreadyTerminal):
			// Expected race outcome: another sweep or a human resolve won.
		case errors.Is(err, alerts.ErrNotFound):
			// Candidate vanished between listing and expiry; nothing to do.
		default:
			log.Printf("Sweeper: expire %s failed: %v", id, err)
		}
	}
}

func (s *Sweeper) dispatchSweep(queue chan<- uuid.UUID) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ids, err := s.service.ListExpiredCandidates(ctx, candidateBatchSize)
	if err != nil {
		log.Printf("Sweeper: list candidates failed: %v", err)
		return
	}

	for _, id := range ids {
		select {
		case queue <- id:
		default:
			// Queue full: leave the rest for the next tick (backpressure).
			metrics.SweepDuration.Observe(time.Since(start).Seconds())
			return
		}
	}
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
}
