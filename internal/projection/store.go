// Package projection keeps the in-memory read model a consuming service
// builds from booking events: one record per booking id, in the order the
// bookings were first seen.
package projection

import (
	"fmt"
	"iter"
	"sync"

	"github.com/drblury/tripflow/internal/events"
	errspkg "github.com/drblury/tripflow/internal/runtime/errors"
	"github.com/drblury/tripflow/internal/runtime/logging"
	"github.com/drblury/tripflow/internal/runtime/metrics"
)

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logging.ServiceLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics reports the tracked booking count.
func WithMetrics(m *metrics.Pipeline) Option {
	return func(s *Store) { s.metrics = m }
}

// WithOrphanBuffering keeps the latest status update for a booking that has
// not been created yet and applies it when the creation arrives. Without it
// such updates are dropped.
func WithOrphanBuffering(enabled bool) Option {
	return func(s *Store) { s.bufferOrphans = enabled }
}

// Store is safe for one writer and many concurrent readers.
type Store struct {
	listing       events.ListingType
	logger        logging.ServiceLogger
	metrics       *metrics.Pipeline
	bufferOrphans bool

	mu      sync.RWMutex
	order   []string
	records map[string]*Booking
	orphans map[string]events.Envelope
}

// NewStore returns an empty projection for one listing type.
func NewStore(listing events.ListingType, opts ...Option) (*Store, error) {
	if _, err := events.ParseListingType(string(listing)); err != nil {
		return nil, err
	}
	s := &Store{
		listing: listing,
		logger:  logging.Nop(),
		records: make(map[string]*Booking),
		orphans: make(map[string]events.Envelope),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.LogFields{"component": "projection", "listing_type": string(listing)})
	return s, nil
}

// ListingType is the listing this store tracks.
func (s *Store) ListingType() events.ListingType { return s.listing }

func (s *Store) check(env events.Envelope, want events.EventType) error {
	if env.ListingType != s.listing {
		return fmt.Errorf("%w: got %s, tracking %s", errspkg.ErrListingTypeMismatch, env.ListingType, s.listing)
	}
	if env.EventType != want {
		return fmt.Errorf("%w: %q where %q was expected", errspkg.ErrUnknownEventType, env.EventType, want)
	}
	return env.Validate()
}

// ApplyCreated inserts the booking or, for a redelivered creation, replaces
// its payload. A status set by an update is never rolled back by a
// redelivered creation.
func (s *Store) ApplyCreated(env events.Envelope) error {
	if err := s.check(env, events.EventBookingCreated); err != nil {
		return err
	}

	s.mu.Lock()
	rec, exists := s.records[env.BookingID]
	if !exists {
		rec = &Booking{BookingID: env.BookingID, ListingType: env.ListingType}
		s.records[env.BookingID] = rec
		s.order = append(s.order, env.BookingID)
	}
	rec.Payload = env.Payload
	rec.CreatedAt = env.Timestamp
	if !rec.statusUpdated {
		rec.Status = env.Status
		rec.UpdatedAt = env.Timestamp
	}

	orphan, hasOrphan := s.orphans[env.BookingID]
	if hasOrphan {
		delete(s.orphans, env.BookingID)
		if !rec.statusUpdated {
			rec.Status = orphan.Status
			rec.UpdatedAt = orphan.Timestamp
			rec.statusUpdated = true
		}
	}
	size := len(s.records)
	s.mu.Unlock()

	s.metrics.SetProjectionSize(string(s.listing), size)
	fields := logging.LogFields{"booking_id": env.BookingID, "status": string(env.Status)}
	switch {
	case exists:
		s.logger.Info("Redelivered booking creation applied", fields)
	case hasOrphan:
		fields["backfilled_status"] = string(orphan.Status)
		s.logger.Info("Booking created with buffered status", fields)
	default:
		s.logger.Debug("Booking created", fields)
	}
	return nil
}

// ApplyStatusUpdate sets the status of a known booking. Updates for unknown
// bookings create no record and are not errors: they are dropped, or held
// when orphan buffering is on.
func (s *Store) ApplyStatusUpdate(env events.Envelope) error {
	if err := s.check(env, events.EventBookingStatusUpdated); err != nil {
		return err
	}

	fields := logging.LogFields{"booking_id": env.BookingID, "status": string(env.Status)}

	s.mu.Lock()
	rec, ok := s.records[env.BookingID]
	if !ok {
		if s.bufferOrphans {
			s.orphans[env.BookingID] = env
		}
		s.mu.Unlock()
		if s.bufferOrphans {
			s.logger.Info("Status update for unknown booking buffered", fields)
		} else {
			s.logger.Info("Status update for unknown booking dropped", fields)
		}
		return nil
	}
	rec.Status = env.Status
	rec.UpdatedAt = env.Timestamp
	rec.statusUpdated = true
	s.mu.Unlock()

	s.logger.Debug("Booking status updated", fields)
	return nil
}

// Seed loads records restored from a mirror. Existing records win.
func (s *Store) Seed(bookings ...Booking) int {
	s.mu.Lock()
	added := 0
	for _, b := range bookings {
		if b.ListingType != s.listing || b.BookingID == "" {
			continue
		}
		if _, exists := s.records[b.BookingID]; exists {
			continue
		}
		rec := b
		s.records[b.BookingID] = &rec
		s.order = append(s.order, b.BookingID)
		added++
	}
	size := len(s.records)
	s.mu.Unlock()

	s.metrics.SetProjectionSize(string(s.listing), size)
	return added
}

// Get returns a copy of one record.
func (s *Store) Get(bookingID string) (Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[bookingID]
	if !ok {
		return Booking{}, false
	}
	return *rec, true
}

// Len is the number of distinct bookings tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// PendingOrphans is the number of buffered status updates.
func (s *Store) PendingOrphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orphans)
}

func (s *Store) snapshot() []Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Booking, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// All yields the matching bookings in first-seen order. Each range over the
// sequence takes a fresh snapshot, so it can be iterated again and never
// observes a half-applied event.
func (s *Store) All(filters ...Filter) iter.Seq[Booking] {
	return func(yield func(Booking) bool) {
		for _, b := range s.snapshot() {
			if !matches(b, filters) {
				continue
			}
			if !yield(b) {
				return
			}
		}
	}
}

// Stats aggregates the matching bookings. Revenue sums every tracked booking
// regardless of status.
func (s *Store) Stats(filters ...Filter) Stats {
	st := Stats{ByStatus: make(map[events.Status]int)}
	nights := 0
	for b := range s.All(filters...) {
		st.Count++
		st.ByStatus[b.Status]++
		st.TotalRevenue += b.Payload.TotalPrice()
		if b.Payload.Hotel != nil {
			nights += b.Payload.Hotel.Nights
		}
	}
	if s.listing == events.ListingHotel {
		avg := 0.0
		if st.Count > 0 {
			avg = float64(nights) / float64(st.Count)
		}
		st.AverageNights = &avg
	}
	return st
}
