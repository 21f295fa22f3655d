package credentials

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
)

// DefaultRotationInterval matches the chat platform session lifetime margin.
const DefaultRotationInterval = 30 * time.Minute

// RotatorConfig configures a Rotator.
type RotatorConfig struct {
	Pool     *Pool
	Clock    clock.Clock
	Interval time.Duration
	Logger   *slog.Logger
}

// Validate checks required fields and applies defaults.
func (c *RotatorConfig) Validate() error {
	if c.Pool == nil {
		return errors.New("rotator: nil pool")
	}
	if c.Interval < 0 {
		return errors.New("rotator: negative interval")
	}
	if c.Interval == 0 {
		c.Interval = DefaultRotationInterval
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	c.Logger = logutil.NoopIfNil(c.Logger)
	return nil
}

// Rotator refreshes a Pool on a fixed interval, independent of request traffic.
type Rotator struct {
	cfg RotatorConfig
}

// NewRotator validates cfg and returns a Rotator.
func NewRotator(cfg RotatorConfig) (*Rotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Rotator{cfg: cfg}, nil
}

// Run rotates once immediately and then on every tick until ctx is done.
// Rotation errors are logged; Run only returns ctx.Err().
func (r *Rotator) Run(ctx context.Context) error {
	log := r.cfg.Logger
	log.Info("initialize tokens")
	if err := r.cfg.Pool.Rotate(ctx); err != nil {
		log.Error("initial credential rotation incomplete", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.cfg.Clock.After(r.cfg.Interval):
			log.Info("rotating tokens")
			if err := r.cfg.Pool.Rotate(ctx); err != nil {
				log.Error("credential rotation incomplete", "error", err)
			}
		}
	}
}
