package bookings

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"reserva/backend/internal/domain"
	"reserva/backend/internal/events"
	"reserva/backend/internal/idempotency"
	"reserva/backend/internal/payment"
	"reserva/backend/internal/store"
)

// memStore is an in-memory catalog, schedule, booking and package store.
// InProfessionalTransaction serializes per professional and discards inserts
// and package consumption when fn or the commit fails.
type memStore struct {
	mu            sync.Mutex
	services      map[uuid.UUID]domain.Service
	professionals []domain.Professional
	schedules     []domain.WorkingSchedule
	bookings      []domain.Booking
	sessions      map[uuid.UUID]domain.PackageSession

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex

	// insertErr, when set, is returned by every transactional Insert.
	insertErr error
	// commitErr, when set, fails the transaction after fn succeeds.
	commitErr error

	// consumed counts committed package decrements, discarded the ones
	// dropped by a rollback.
	consumed  int
	discarded int
}

func newMemStore() *memStore {
	return &memStore{
		services: make(map[uuid.UUID]domain.Service),
		sessions: make(map[uuid.UUID]domain.PackageSession),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *memStore) Service(ctx context.Context, tenantID string, serviceID uuid.UUID) (domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[serviceID]
	if !ok || s.TenantID != tenantID {
		return domain.Service{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memStore) Professional(ctx context.Context, tenantID string, professionalID uuid.UUID) (domain.Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.professionals {
		if p.ID == professionalID && p.TenantID == tenantID {
			return p, nil
		}
	}
	return domain.Professional{}, store.ErrNotFound
}

func (m *memStore) ProfessionalsForService(ctx context.Context, tenantID string, serviceID uuid.UUID) ([]domain.Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Professional
	for _, p := range m.professionals {
		if p.TenantID != tenantID || !p.Active {
			continue
		}
		for _, s := range m.schedules {
			if s.ProfessionalID == p.ID && s.Qualifies(serviceID) {
				out = append(out, p)
				break
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Professional) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *memStore) Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	return domain.TenantSettings{}, store.ErrNotFound
}

func (m *memStore) ForProfessionalAndWeekday(ctx context.Context, tenantID string, professionalID uuid.UUID, weekday time.Weekday, serviceID uuid.UUID) ([]domain.WorkingSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WorkingSchedule
	for _, s := range m.schedules {
		if s.TenantID == tenantID && s.ProfessionalID == professionalID && s.AppliesTo(weekday) && s.Qualifies(serviceID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ActiveBetween(ctx context.Context, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.TenantID == tenantID && b.ProfessionalID == professionalID && b.Active() && b.StartTime.Before(end) && b.EndTime.After(start) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) Get(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.ID == bookingID && b.TenantID == tenantID {
			return b, nil
		}
	}
	return domain.Booking{}, store.ErrNotFound
}

func (m *memStore) Cancel(ctx context.Context, tenantID string, bookingID uuid.UUID) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.bookings {
		if b.ID != bookingID || b.TenantID != tenantID {
			continue
		}
		if !b.Active() {
			return domain.Booking{}, store.ErrAlreadyCancelled
		}
		now := time.Now().UTC()
		b.Status = domain.BookingStatusCancelled
		b.CancelledAt = &now
		m.bookings[i] = b
		return b, nil
	}
	return domain.Booking{}, store.ErrNotFound
}

func (m *memStore) professionalLock(id uuid.UUID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *memStore) InProfessionalTransaction(ctx context.Context, tenantID string, professionalID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	l := m.professionalLock(professionalID)
	l.Lock()
	defer l.Unlock()

	tx := &memTx{memStore: m}
	err := fn(ctx, tx)
	if err == nil {
		err = m.commitErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.discarded += len(tx.consumes)
		return err
	}
	m.bookings = append(m.bookings, tx.pending...)
	for _, id := range tx.consumes {
		s := m.sessions[id]
		s.Remaining--
		m.sessions[id] = s
		m.consumed++
	}
	return nil
}

func (m *memStore) FindUsableSession(ctx context.Context, tenantID, customerID string, serviceID uuid.UUID) (*domain.PackageSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.CustomerID == customerID && s.ServiceID == serviceID && s.Remaining > 0 {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memStore) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.Active() {
			n++
		}
	}
	return n
}

type memTx struct {
	*memStore
	pending  []domain.Booking
	consumes []uuid.UUID
}

func (t *memTx) ConsumePackage(ctx context.Context, session domain.PackageSession) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[session.ID]
	if !ok {
		return store.ErrPackageExhausted
	}
	taken := 0
	for _, id := range t.consumes {
		if id == session.ID {
			taken++
		}
	}
	if s.Remaining-taken <= 0 {
		return store.ErrPackageExhausted
	}
	t.consumes = append(t.consumes, session.ID)
	return nil
}

func (t *memTx) ActiveBetween(ctx context.Context, tenantID string, professionalID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	out, err := t.memStore.ActiveBetween(ctx, tenantID, professionalID, start, end)
	if err != nil {
		return nil, err
	}
	for _, b := range t.pending {
		if b.ProfessionalID == professionalID && b.StartTime.Before(end) && b.EndTime.After(start) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) Insert(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if t.insertErr != nil {
		return domain.Booking{}, t.insertErr
	}
	existing, err := t.ActiveBetween(ctx, b.TenantID, b.ProfessionalID, b.StartTime, b.EndTime)
	if err != nil {
		return domain.Booking{}, err
	}
	if len(existing) > 0 {
		return domain.Booking{}, store.ErrConflict
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	t.pending = append(t.pending, b)
	return b, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	chargeFn func(ctx context.Context, req payment.ChargeRequest) (payment.Receipt, error)
	refundFn func(ctx context.Context, receipt payment.Receipt) error
	charges  []payment.ChargeRequest
	refunds  []payment.Receipt
}

func (f *fakeGateway) Charge(ctx context.Context, req payment.ChargeRequest) (payment.Receipt, error) {
	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()
	if f.chargeFn == nil {
		return payment.Receipt{ID: "pi_" + req.IdempotencyKey, Provider: "fake", AmountCents: req.AmountCents, Currency: "usd"}, nil
	}
	return f.chargeFn(ctx, req)
}

func (f *fakeGateway) Refund(ctx context.Context, receipt payment.Receipt) error {
	f.mu.Lock()
	f.refunds = append(f.refunds, receipt)
	f.mu.Unlock()
	if f.refundFn == nil {
		return nil
	}
	return f.refundFn(ctx, receipt)
}

func (f *fakeGateway) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

type memGuard struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
}

func newMemGuard() *memGuard {
	return &memGuard{entries: make(map[string]uuid.UUID)}
}

func (g *memGuard) Claim(ctx context.Context, key string) (idempotency.Claim, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.entries[key]
	switch {
	case !ok:
		g.entries[key] = uuid.Nil
		return idempotency.Claim{Outcome: idempotency.Claimed}, nil
	case id == uuid.Nil:
		return idempotency.Claim{Outcome: idempotency.InProgress}, nil
	default:
		return idempotency.Claim{Outcome: idempotency.Completed, BookingID: id}, nil
	}
}

func (g *memGuard) Complete(ctx context.Context, key string, bookingID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[key] = bookingID
	return nil
}

func (g *memGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
	err    error
	// hang makes Publish wait for ctx like an unreachable broker.
	hang bool
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.BookingEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	hang, err := p.hang, p.err
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

var errBoom = errors.New("boom")
