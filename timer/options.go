package timer

import (
	"errors"

	"github.com/andres-erbsen/clock"
	"github.com/joeycumines/logiface"
)

type serviceOptions struct {
	clock           clock.Clock
	logger          *logiface.Logger[logiface.Event]
	initialCapacity int
	growthStep      int
}

// Option configures a [Service].
type Option interface {
	applyService(*serviceOptions) error
}

type serviceOptionImpl struct {
	applyServiceFunc func(*serviceOptions) error
}

func (x *serviceOptionImpl) applyService(opts *serviceOptions) error {
	return x.applyServiceFunc(opts)
}

// WithClock sets the clock used to compute deadlines and wait for them,
// defaulting to the real clock. Intended for testing, with clock.NewMock.
func WithClock(c clock.Clock) Option {
	return &serviceOptionImpl{func(opts *serviceOptions) error {
		if c == nil {
			return errors.New(`timer: nil clock`)
		}
		opts.clock = c
		return nil
	}}
}

// WithInitialCapacity sizes the heap for n elements, plus one spare, and
// the sentinel. That is, n+1 elements may be scheduled before the heap
// needs to grow. Defaults to 128.
func WithInitialCapacity(n int) Option {
	return &serviceOptionImpl{func(opts *serviceOptions) error {
		if n < 0 {
			return errors.New(`timer: negative initial capacity`)
		}
		opts.initialCapacity = n
		return nil
	}}
}

// WithGrowthStep sets the number of slots the heap grows by, when full.
// Zero disables growth, causing [Service.Add] to fail with [ErrFull].
// Defaults to 1.
func WithGrowthStep(n int) Option {
	return &serviceOptionImpl{func(opts *serviceOptions) error {
		if n < 0 {
			return errors.New(`timer: negative growth step`)
		}
		opts.growthStep = n
		return nil
	}}
}

// WithLogger configures logging, e.g. of panicking callbacks. A nil logger
// disables logging.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return &serviceOptionImpl{func(opts *serviceOptions) error {
		opts.logger = l
		return nil
	}}
}

func resolveServiceOptions(opts []Option) (*serviceOptions, error) {
	cfg := &serviceOptions{
		initialCapacity: 128,
		growthStep:      1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyService(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}
	return cfg, nil
}
