//go:build linux || darwin

package reactor

import (
	"github.com/joeycumines/logiface"
)

type pollerOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a [Poller].
type Option interface {
	applyPoller(*pollerOptions) error
}

type pollerOptionImpl struct {
	applyPollerFunc func(*pollerOptions) error
}

func (x *pollerOptionImpl) applyPoller(opts *pollerOptions) error {
	return x.applyPollerFunc(opts)
}

// WithLogger configures logging. A nil logger disables logging, which is
// the default.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return &pollerOptionImpl{func(opts *pollerOptions) error {
		opts.logger = l
		return nil
	}}
}

func resolvePollerOptions(opts []Option) (*pollerOptions, error) {
	cfg := &pollerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPoller(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
