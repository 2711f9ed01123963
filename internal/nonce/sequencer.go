// Package nonce issues per-account transaction sequence numbers. Leases are
// handed out strictly increasing per account and never reused within the
// process lifetime; an abandoned lease rolls the mark back only when no
// higher lease was issued since, otherwise the gap stays as a hole for
// operator reconciliation.
package nonce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
)

// Outcome describes how a lease left the executor's hands.
type Outcome int

const (
	// Consumed means the transaction reached the network. The sequence
	// number is burned whether or not it later confirmed.
	Consumed Outcome = iota
	// Abandoned means the transaction never reached the network and the
	// sequence number may be reclaimable.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case Consumed:
		return "consumed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// ErrLeaseReleased is returned when a lease is released twice.
var ErrLeaseReleased = fmt.Errorf("nonce: lease already released")

// Lease is an exclusive reservation of one sequence number for one account.
// It belongs to the requesting executor until released.
type Lease struct {
	Account  common.Address
	Sequence uint64
	IssuedAt time.Time

	released bool // guarded by the owning account's mutex
}

// PendingNonceReader supplies the chain's pending nonce for an account,
// used once to seed a fresh account sequence.
type PendingNonceReader interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// accountState tracks one account's sequence. next is the number the next
// lease receives; next-1 is the high-water mark of issued leases.
type accountState struct {
	mu          sync.Mutex
	initialized bool
	next        uint64
}

// Sequencer hands out nonce leases. Callers for the same account are
// serialized on that account's mutex; different accounts never block each
// other.
type Sequencer struct {
	reader  PendingNonceReader
	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	accounts map[common.Address]*accountState
}

// SequencerConfig holds sequencer dependencies.
type SequencerConfig struct {
	Reader  PendingNonceReader
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewSequencer creates a sequencer seeded lazily from the chain's pending
// nonce on each account's first lease.
func NewSequencer(cfg SequencerConfig) (*Sequencer, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("nonce: pending nonce reader is required")
	}

	return &Sequencer{
		reader:   cfg.Reader,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		accounts: make(map[common.Address]*accountState),
	}, nil
}

// Lease reserves the next sequence number for account. The first lease for
// an account reads the chain's pending nonce under the account lock, so
// concurrent first leases still observe one consistent starting point.
func (s *Sequencer) Lease(ctx context.Context, account common.Address) (*Lease, error) {
	st := s.state(account)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.initialized {
		pending, err := s.reader.PendingNonce(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("nonce: seeding account %s: %w", account.Hex(), err)
		}
		st.next = pending
		st.initialized = true

		if s.logger != nil {
			s.logger.Info("nonce sequence seeded",
				"account", account.Hex(),
				"pending_nonce", pending,
			)
		}
	}

	lease := &Lease{
		Account:  account,
		Sequence: st.next,
		IssuedAt: time.Now(),
	}
	st.next++

	if s.metrics != nil {
		s.metrics.RecordNonceLease(ctx, account.Hex())
	}
	if s.logger != nil {
		s.logger.Debug("nonce leased",
			"account", account.Hex(),
			"sequence", lease.Sequence,
		)
	}

	return lease, nil
}

// Release returns a lease to the sequencer. Consumed burns the sequence
// number. Abandoned reclaims it only when the lease is still the highest
// issued for its account; otherwise the gap is logged and counted and the
// caller must retry with a fresh lease at the current mark.
func (s *Sequencer) Release(lease *Lease, outcome Outcome) error {
	if lease == nil {
		return fmt.Errorf("nonce: cannot release nil lease")
	}

	st := s.state(lease.Account)

	st.mu.Lock()
	defer st.mu.Unlock()

	if lease.released {
		return ErrLeaseReleased
	}
	lease.released = true

	if s.metrics != nil {
		s.metrics.RecordNonceRelease(context.Background(), lease.Account.Hex(), outcome.String())
	}

	if outcome != Abandoned {
		return nil
	}

	if st.initialized && lease.Sequence == st.next-1 {
		st.next--
		if s.logger != nil {
			s.logger.Debug("abandoned nonce reclaimed",
				"account", lease.Account.Hex(),
				"sequence", lease.Sequence,
			)
		}
		return nil
	}

	// A higher lease went out since this one was issued. Gap-filling is
	// unsupported, so the sequence number is permanently lost unless an
	// operator intervenes.
	if s.logger != nil {
		s.logger.Warn("abandoned nonce left a hole",
			"account", lease.Account.Hex(),
			"sequence", lease.Sequence,
			"current_mark", st.next-1,
		)
	}
	if s.metrics != nil {
		s.metrics.RecordNonceHole(context.Background(), lease.Account.Hex())
	}

	return nil
}

// state returns the account's sequence state, creating it on first use.
func (s *Sequencer) state(account common.Address) *accountState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.accounts[account]
	if !ok {
		st = &accountState{}
		s.accounts[account] = st
	}
	return st
}
