package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/smartmove/internal/audit"
	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/testutil"
)

var errDiskFull = errors.New("disk full")

// memStore is an in-memory VehicleStore with scripted failures.
type memStore struct {
	mu         sync.Mutex
	vehicles   map[string]domain.Vehicle
	failSaves  int // fail the next N Save calls
	failReads  map[string]error
	failDelete bool
	saves      int
}

func newMemStore(vs ...domain.Vehicle) *memStore {
	s := &memStore{vehicles: map[string]domain.Vehicle{}, failReads: map[string]error{}}
	for _, v := range vs {
		s.vehicles[v.ID] = v
	}
	return s
}

func (s *memStore) FindByID(_ context.Context, id string) (domain.Vehicle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failReads[id]; err != nil {
		return domain.Vehicle{}, false, err
	}
	v, ok := s.vehicles[id]
	return v, ok, nil
}

func (s *memStore) FindAll(_ context.Context) ([]domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Save(_ context.Context, v domain.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSaves > 0 {
		s.failSaves--
		return errDiskFull
	}
	s.vehicles[v.ID] = v
	return nil
}

func (s *memStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete {
		return errDiskFull
	}
	delete(s.vehicles, id)
	return nil
}

func (s *memStore) get(t *testing.T, id string) domain.Vehicle {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	require.True(t, ok, "vehicle %s not stored", id)
	return v
}

func (s *memStore) failNextSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

// memLedger is an in-memory PaymentLedger.
type memLedger struct {
	mu       sync.Mutex
	payments []domain.Payment
	fail     bool
}

func (l *memLedger) Save(_ context.Context, p domain.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errDiskFull
	}
	l.payments = append(l.payments, p)
	return nil
}

func (l *memLedger) FindAll(_ context.Context) ([]domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Payment{}, l.payments...), nil
}

// failingAudit wraps an AuditLog and fails appends for chosen events.
type failingAudit struct {
	AuditLog
	mu     sync.Mutex
	events map[string]bool
}

func (f *failingAudit) Append(event, details string) (audit.Entry, error) {
	f.mu.Lock()
	fail := f.events[event]
	f.mu.Unlock()
	if fail {
		return audit.Entry{}, errDiskFull
	}
	return f.AuditLog.Append(event, details)
}

// zoneFunc adapts a func to ZoneQuery.
type zoneFunc func(city domain.City, t domain.VehicleType, lat, lon float64) bool

func (f zoneFunc) IsRestricted(city domain.City, t domain.VehicleType, lat, lon float64) bool {
	return f(city, t, lat, lon)
}

var noZones = zoneFunc(func(domain.City, domain.VehicleType, float64, float64) bool { return false })

// fixture bundles a controller with real audit log and in-memory stores.
type fixture struct {
	ctrl    *Controller
	store   *memStore
	ledger  *memLedger
	log     *audit.Log
	logPath string
}

func newFixture(t *testing.T, zq ZoneQuery, opts ...Option) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit-log.jsonl")
	clock := testutil.NewDeterministicClock()
	log, err := audit.Open(path, audit.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	f := &fixture{
		store:   newMemStore(),
		ledger:  &memLedger{},
		log:     log,
		logPath: path,
	}
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("pay")),
		WithClock(testutil.NewDeterministicClock().Now),
	}
	f.ctrl = New(f.store, f.ledger, log, zq, append(base, opts...)...)
	return f
}

// seed writes a vehicle directly to the store, bypassing the audit log.
func (f *fixture) seed(vs ...domain.Vehicle) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, v := range vs {
		f.store.vehicles[v.ID] = v
	}
}

func (f *fixture) entries(t *testing.T) []audit.Entry {
	t.Helper()
	entries, err := f.log.Entries()
	require.NoError(t, err)
	return entries
}

func (f *fixture) events(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, e := range f.entries(t) {
		names = append(names, e.Event)
	}
	return names
}
