package saga

import (
	"context"
	"errors"
	"sync"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"golang.org/x/sync/errgroup"
)

// ErrManagerStopped is returned when the event subscription of the source
// ledger ends.
var ErrManagerStopped = errors.New("source ledger event subscription ended")

// Manager starts a saga for every commitment on the source ledger that is
// addressed to the solver.
type Manager struct {
	cfg *Config

	mu    sync.Mutex
	sagas map[htlcdb.ID]*Saga
}

// NewManager creates a saga manager. The source ledger must be started for
// commitments to be picked up.
func NewManager(cfg *Config) *Manager {
	cfg.setDefaults()

	return &Manager{
		cfg:   cfg,
		sagas: make(map[htlcdb.ID]*Saga),
	}
}

// Run serves commitments until ctx is canceled. initChan is closed once the
// manager is subscribed to the source ledger. Run waits for all running
// sagas before returning.
func (m *Manager) Run(ctx context.Context, initChan chan struct{}) error {
	client, err := m.cfg.Source.SubscribeEvents()
	if err != nil {
		return err
	}
	defer client.Cancel()

	close(initChan)

	log.Infof("Saga manager started for solver %v", m.cfg.Solver)

	eg, ctx := errgroup.WithContext(ctx)
	for {
		select {
		case update, ok := <-client.Updates():
			if !ok {
				_ = eg.Wait()
				return ErrManagerStopped
			}

			event, ok := update.(*ledger.Event)
			if !ok || !m.serves(event) {
				continue
			}

			commitID := event.PHTLC.ID
			s, err := m.startSaga(commitID)
			if err != nil {
				log.Errorf("Unable to start saga for %v: %v",
					commitID, err)

				continue
			}

			eg.Go(func() error {
				defer m.removeSaga(commitID)

				if err := s.Run(ctx); err != nil {
					log.Errorf("Swap %v failed: %v",
						s.Snapshot().CommitID, err)
				}

				return nil
			})

		case <-client.Quit():
			_ = eg.Wait()
			return ErrManagerStopped

		case <-ctx.Done():
			_ = eg.Wait()
			log.Infof("Saga manager stopped")

			return nil
		}
	}
}

func (m *Manager) serves(event *ledger.Event) bool {
	return event.Type == ledger.EventCommitted && event.PHTLC != nil &&
		event.PHTLC.SrcReceiver == m.cfg.Solver
}

func (m *Manager) startSaga(commitID htlcdb.ID) (*Saga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sagas[commitID]; ok {
		return nil, errors.New("saga already running")
	}

	s, err := New(m.cfg, commitID)
	if err != nil {
		return nil, err
	}
	m.sagas[commitID] = s

	return s, nil
}

func (m *Manager) removeSaga(commitID htlcdb.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sagas, commitID)
}

// Active returns the number of running sagas.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sagas)
}

// Saga returns the running saga serving the given commitment, if any.
func (m *Manager) Saga(commitID htlcdb.ID) (*Saga, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sagas[commitID]
	return s, ok
}
