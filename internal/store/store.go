package store

import (
	"errors"
	"sync"
	"time"

	"github.com/omondi/mpesa-gateway/internal/model"
	"github.com/omondi/mpesa-gateway/pkg/logger"
)

var (
	ErrNotFound     = errors.New("transaction not found")
	ErrDuplicateKey = errors.New("transaction already exists")
)

type Config struct {
	// RetentionTTL is how long settled (completed/failed) transactions are
	// kept before the sweeper drops them. Zero disables eviction entirely.
	RetentionTTL time.Duration

	// SweepInterval is how often the sweeper scans for expired records.
	// Defaults to one minute when retention is enabled.
	SweepInterval time.Duration
}

// Store is the process-local registry of STK push transactions, keyed by the
// gateway-assigned CheckoutRequestID. It starts empty on every process start;
// nothing is persisted.
type Store struct {
	mu           sync.RWMutex
	transactions map[string]model.Transaction
	config       Config
	stopCh       chan struct{}
	wg           sync.WaitGroup
	sweeping     bool
}

func New(config Config) *Store {
	if config.RetentionTTL > 0 && config.SweepInterval == 0 {
		config.SweepInterval = time.Minute
	}
	return &Store{
		transactions: make(map[string]model.Transaction),
		config:       config,
		stopCh:       make(chan struct{}),
	}
}

// Create inserts a new record. The key is gateway-assigned and unique, so a
// duplicate indicates an invariant violation upstream.
func (s *Store) Create(tx model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.CheckoutRequestID]; ok {
		return ErrDuplicateKey
	}
	s.transactions[tx.CheckoutRequestID] = tx
	return nil
}

// Get returns a copy of the record so callers never observe a concurrent
// mutation through a shared pointer.
func (s *Store) Get(checkoutRequestID string) (model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[checkoutRequestID]
	if !ok {
		return model.Transaction{}, ErrNotFound
	}
	return tx, nil
}

// Update applies mutate to the record under the store lock. The mutation is
// atomic with respect to every other operation on the same key; readers see
// either the old record or the fully mutated one.
func (s *Store) Update(checkoutRequestID string, mutate func(tx *model.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[checkoutRequestID]
	if !ok {
		return ErrNotFound
	}
	if err := mutate(&tx); err != nil {
		return err
	}
	s.transactions[checkoutRequestID] = tx
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}

// StartSweeper launches the retention sweeper. No-op when retention is
// disabled or the sweeper already runs.
func (s *Store) StartSweeper() {
	s.mu.Lock()
	if s.config.RetentionTTL <= 0 || s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sweeper()
	logger.Info("store sweeper started", "retention_ttl", s.config.RetentionTTL, "interval", s.config.SweepInterval)
}

func (s *Store) sweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// sweep drops settled records older than the retention TTL. Pending records
// are never evicted: a late callback must still find its transaction.
func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, tx := range s.transactions {
		if !tx.Status.Terminal() {
			continue
		}
		settledAt := tx.CreatedAt
		if tx.CompletedAt != nil {
			settledAt = *tx.CompletedAt
		}
		if now.Sub(settledAt) > s.config.RetentionTTL {
			delete(s.transactions, id)
			evicted++
		}
	}
	if evicted > 0 {
		logger.Debug("store sweep evicted settled transactions", "count", evicted)
	}
}

// Close stops the sweeper and waits for it to exit.
func (s *Store) Close() {
	s.mu.Lock()
	running := s.sweeping
	s.sweeping = false
	s.mu.Unlock()

	// Released before waiting: the sweeper takes the same lock.
	if running {
		close(s.stopCh)
		s.wg.Wait()
	}
}
