package workpool

import (
	"time"

	"github.com/joeycumines/logiface"
)

type poolOptions struct {
	logger         *logiface.Logger[logiface.Event]
	rejectionRates map[time.Duration]int
}

// Option configures a [Pool].
type Option interface {
	applyPool(*poolOptions) error
}

type poolOptionImpl struct {
	applyPoolFunc func(*poolOptions) error
}

func (x *poolOptionImpl) applyPool(opts *poolOptions) error {
	return x.applyPoolFunc(opts)
}

// WithLogger configures logging. A nil logger disables logging.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.logger = l
		return nil
	}}
}

// WithRejectionLogRates limits how often rejected submissions are logged,
// see catrate.NewLimiter for the format. A nil or empty map logs every
// rejection. Defaults to once per second, and at most 10 per minute.
func WithRejectionLogRates(rates map[time.Duration]int) Option {
	return &poolOptionImpl{func(opts *poolOptions) error {
		opts.rejectionRates = rates
		return nil
	}}
}

func resolvePoolOptions(opts []Option) (*poolOptions, error) {
	cfg := &poolOptions{
		rejectionRates: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPool(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
