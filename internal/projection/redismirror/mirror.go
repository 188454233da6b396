// Package redismirror copies projection records into Redis so a restarted
// consumer can rebuild its read model without replaying the topic.
//
// Records live in one hash per listing type (field = booking id, value =
// JSON) with a sorted set that remembers first-seen order.
package redismirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drblury/tripflow/internal/events"
	"github.com/drblury/tripflow/internal/projection"
	jsoncodec "github.com/drblury/tripflow/internal/runtime/jsoncodec"
)

// Mirror implements projection.Sink on top of a Redis client.
type Mirror struct {
	client  *redis.Client
	prefix  string
	listing events.ListingType
	now     func() time.Time
}

// NewClient builds the Redis client used by the mirror.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New returns a mirror for one listing type. prefix namespaces the keys.
func New(client *redis.Client, prefix string, listing events.ListingType) (*Mirror, error) {
	if client == nil {
		return nil, errors.New("redismirror: client is required")
	}
	if _, err := events.ParseListingType(string(listing)); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "tripflow"
	}
	return &Mirror{client: client, prefix: prefix, listing: listing, now: time.Now}, nil
}

func (m *Mirror) recordsKey() string {
	return fmt.Sprintf("%s:%s:bookings", m.prefix, m.listing)
}

func (m *Mirror) orderKey() string {
	return fmt.Sprintf("%s:%s:order", m.prefix, m.listing)
}

// Ping checks connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Save writes b and, the first time it is seen, records its position.
func (m *Mirror) Save(ctx context.Context, b projection.Booking) error {
	if b.ListingType != m.listing {
		return fmt.Errorf("redismirror: booking %s is %s, mirror tracks %s", b.BookingID, b.ListingType, m.listing)
	}
	data, err := jsoncodec.Marshal(b)
	if err != nil {
		return fmt.Errorf("redismirror: encode %s: %w", b.BookingID, err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, m.recordsKey(), b.BookingID, data)
		pipe.ZAddNX(ctx, m.orderKey(), redis.Z{
			Score:  float64(m.now().UnixMicro()),
			Member: b.BookingID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redismirror: save %s: %w", b.BookingID, err)
	}
	return nil
}

// Restore reads every mirrored record in first-seen order. Records that no
// longer decode are skipped and counted in the returned error.
func (m *Mirror) Restore(ctx context.Context) ([]projection.Booking, error) {
	ids, err := m.client.ZRange(ctx, m.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redismirror: read order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := m.client.HMGet(ctx, m.recordsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redismirror: read records: %w", err)
	}

	out := make([]projection.Booking, 0, len(values))
	var errs []error
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var b projection.Booking
		if err := jsoncodec.Unmarshal([]byte(raw), &b); err != nil {
			errs = append(errs, fmt.Errorf("booking %s: %w", ids[i], err))
			continue
		}
		out = append(out, b)
	}
	return out, errors.Join(errs...)
}

// Close releases the client.
func (m *Mirror) Close() error {
	return m.client.Close()
}
