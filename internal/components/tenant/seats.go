package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

// ErrSeatLimitExceeded is returned when a tenant has no free consultant seat.
var ErrSeatLimitExceeded = errors.New("tenant seat limit exceeded")

// SeatSource returns the licensed seat count of a tenant. *Client implements it.
type SeatSource interface {
	AllowedSeats(ctx context.Context, tenantID string) (int64, error)
}

// ActiveCounter counts the consultants occupying seats.
type ActiveCounter interface {
	CountActiveConsultants(ctx context.Context, tenantID string) (int64, error)
}

// SeatGate checks whether a tenant may add another consultant. Allowed seat
// counts are cached; active counts are always read fresh.
type SeatGate struct {
	source SeatSource
	cache  cache.Cache
	active ActiveCounter
	ttl    time.Duration
	logger *slog.Logger
}

// NewSeatGate creates a SeatGate. A zero ttl uses cache.TTLSeats.
func NewSeatGate(source SeatSource, c cache.Cache, active ActiveCounter, ttl time.Duration, logger *slog.Logger) *SeatGate {
	if ttl <= 0 {
		ttl = cache.TTLSeats
	}
	return &SeatGate{source: source, cache: c, active: active, ttl: ttl, logger: logutil.NoopIfNil(logger)}
}

func seatsKey(tenantID string) string {
	return "tenant:seats:" + tenantID
}

// AllowedSeats returns the cached allowance, fetching it on a miss. Cache
// failures fall through to the tenant service.
func (g *SeatGate) AllowedSeats(ctx context.Context, tenantID string) (int64, error) {
	key := seatsKey(tenantID)
	if raw, err := g.cache.Get(ctx, key); err == nil {
		if n, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			return n, nil
		}
	} else if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrExpired) {
		g.logger.Warn("seat cache read failed", "tenant_id", tenantID, "error", err)
	}

	n, err := g.source.AllowedSeats(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if err := g.cache.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), g.ttl); err != nil {
		g.logger.Warn("seat cache write failed", "tenant_id", tenantID, "error", err)
	}
	return n, nil
}

// Check returns ErrSeatLimitExceeded when active consultants already fill
// every allowed seat.
func (g *SeatGate) Check(ctx context.Context, tenantID string) error {
	allowed, err := g.AllowedSeats(ctx, tenantID)
	if err != nil {
		return err
	}
	active, err := g.active.CountActiveConsultants(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to count consultants of tenant %s: %w", tenantID, err)
	}
	if active >= allowed {
		return fmt.Errorf("%w: tenant %s uses %d of %d seats", ErrSeatLimitExceeded, tenantID, active, allowed)
	}
	return nil
}
