package epoch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weirflow/weir/checkpoint"
	"github.com/weirflow/weir/types"
)

// Options control when a committed epoch is also persisted to the
// checkpoint store.
type Options struct {
	// MaxRecordsBeforePersist persists an epoch once this many new
	// records accumulated in the record store since the last persist.
	MaxRecordsBeforePersist uint64
	// MaxIntervalBeforePersist persists an epoch once this much time
	// passed since the last persist.
	MaxIntervalBeforePersist time.Duration
}

type stateKind int

const (
	stateClosing stateKind = iota
	stateClosed
)

// managerState is the shared rendezvous state. In Closing it accumulates
// the requests of sources that already arrived; in Closed it carries the
// decision until every source picked it up.
type managerState struct {
	kind stateKind

	// Closing.
	epochID         uint64
	shouldCommit    bool
	shouldTerminate bool
	sourceStates    types.SourceStates
	barrier         *barrier

	// Closed.
	closed        *ClosedEpoch
	confirmations int
}

// Manager closes epochs across all sources of one pipeline. Every source
// goroutine calls WaitForEpochClose at its own pace; the call blocks
// until all sources arrived and returns the joint decision.
type Manager struct {
	numSources   int
	participants int
	factory      *checkpoint.Factory
	opts         Options
	log          *slog.Logger

	mu    sync.Mutex
	state managerState

	lastPersist          time.Time
	recordsAtLastPersist uint64
}

// NewManager creates a manager for numSources sources. participants is
// the number of downstream nodes confirming each persisted epoch.
// nextEpoch is the id the first closed epoch receives: 1 for a fresh
// pipeline, committed+1 after a checkpoint restore. factory may be nil,
// in which case epochs commit but are never persisted.
func NewManager(numSources, participants int, nextEpoch uint64, factory *checkpoint.Factory, opts Options, log *slog.Logger) *Manager {
	m := &Manager{
		numSources:   numSources,
		participants: participants,
		factory:      factory,
		opts:         opts,
		log:          log,
		lastPersist:  time.Now(),
	}
	if factory != nil {
		m.recordsAtLastPersist = factory.RecordStore().NumRecords()
	}
	m.state = newClosing(nextEpoch, numSources)
	return m
}

func newClosing(epochID uint64, numSources int) managerState {
	return managerState{
		kind:            stateClosing,
		epochID:         epochID,
		shouldTerminate: true,
		sourceStates:    make(types.SourceStates),
		barrier:         newBarrier(numSources),
	}
}

// WaitForEpochClose joins the rendezvous for the current epoch. The
// epoch terminates only if every source passes requestTermination and
// commits if any source passes requestCommit or the pipeline
// terminates. token, when non-nil, is the source's resume position at
// the boundary. Cancelling ctx abandons the rendezvous.
func (m *Manager) WaitForEpochClose(ctx context.Context, handle types.NodeHandle, token *types.OpIdentifier, requestTermination, requestCommit bool) (*ClosedEpoch, error) {
	var b *barrier
	for {
		m.mu.Lock()
		if m.state.kind == stateClosing {
			m.state.shouldTerminate = m.state.shouldTerminate && requestTermination
			m.state.shouldCommit = m.state.shouldCommit || requestCommit
			if token != nil {
				m.state.sourceStates[handle] = *token
			}
			b = m.state.barrier
			m.mu.Unlock()
			break
		}
		// A previous epoch is still being picked up by slower
		// sources.
		m.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		time.Sleep(time.Millisecond)
	}

	last, err := b.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if last {
		m.closeEpoch()
	}

	for {
		m.mu.Lock()
		if m.state.kind == stateClosed {
			ce := m.state.closed
			m.state.confirmations++
			if m.state.confirmations == m.numSources {
				next := m.state.epochID
				if ce.Epoch != nil {
					next++
				}
				m.state = newClosing(next, m.numSources)
			}
			m.mu.Unlock()
			return ce, nil
		}
		m.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		time.Sleep(time.Millisecond)
	}
}

// closeEpoch turns the accumulated requests into a decision. Called by
// the last source to reach the barrier.
func (m *Manager) closeEpoch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	terminate := m.state.shouldTerminate
	commit := m.state.shouldCommit || terminate

	ce := &ClosedEpoch{ShouldTerminate: terminate, DecisionInstant: now}
	if commit {
		e := &Epoch{
			ID:              m.state.epochID,
			SourceStates:    m.state.sourceStates.Clone(),
			DecisionInstant: now,
		}
		if m.factory != nil && m.shouldPersist(now, terminate) {
			e.Writer = m.factory.NewWriter(e.ID, e.SourceStates, m.participants)
			m.lastPersist = now
			m.recordsAtLastPersist = m.factory.RecordStore().NumRecords()
			m.log.Debug("persisting epoch", "epoch", e.ID)
		}
		ce.Epoch = e
	}

	m.state.kind = stateClosed
	m.state.closed = ce
	m.state.confirmations = 0
}

func (m *Manager) shouldPersist(now time.Time, terminating bool) bool {
	if terminating {
		return true
	}
	if m.factory.RecordStore().NumRecords()-m.recordsAtLastPersist >= m.opts.MaxRecordsBeforePersist {
		return true
	}
	return now.Sub(m.lastPersist) >= m.opts.MaxIntervalBeforePersist
}
