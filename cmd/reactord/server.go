//go:build linux || darwin

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	reactor "github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/internal/config"
	"github.com/joeycumines/go-reactor/internal/httpconn"
	"github.com/joeycumines/go-reactor/timer"
	"github.com/joeycumines/go-reactor/workpool"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

type (
	server struct {
		logger  *logiface.Logger[logiface.Event]
		poller  *reactor.Poller
		pool    *workpool.Pool
		timers  *timer.Service
		handler *httpconn.FileHandler
		addr    net.Addr
		stats   *timer.Element
		cfg     config.Config
		lfd     int

		accepted atomic.Uint64
		requests atomic.Uint64
		timeouts atomic.Uint64
		rejected atomic.Uint64
		open     atomic.Int64
		// connections with a request being served
		busy     atomic.Int64
		draining atomic.Bool
	}

	// conn is the context of every node registered for a connection.
	conn struct {
		// complete requests received while busy, in order
		pending []*httpconn.Request
		// partial is the request currently being read
		partial   *httpconn.Request
		mu        sync.Mutex
		fd        int
		busy      bool
		dead      bool
		keepAlive bool
		// eof indicates the peer shut down its write side
		eof bool
	}

	// reply is a response, ready to be written.
	reply struct {
		conn     *conn
		res      *httpconn.Response
		register func(*reactor.Data, time.Duration) error
	}
)

func newServer(cfg config.Config, logger *logiface.Logger[logiface.Event]) (_ *server, err error) {
	s := &server{
		cfg:    cfg,
		logger: logger,
		lfd:    -1,
		handler: &httpconn.FileHandler{
			Root:             cfg.DocRoot,
			KeepAliveTimeout: time.Duration(cfg.IdleTimeout),
		},
	}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if s.lfd, s.addr, err = listen(cfg.Listen); err != nil {
		return nil, err
	}

	if s.pool, err = workpool.New(cfg.Workers, cfg.Queue, workpool.WithLogger(logger)); err != nil {
		return nil, err
	}

	if s.timers, err = timer.New(
		timer.WithLogger(logger),
		timer.WithInitialCapacity(cfg.TimerCapacity),
		timer.WithGrowthStep(cfg.TimerGrowth),
	); err != nil {
		return nil, err
	}

	if s.poller, err = reactor.New(reactor.Params{
		MaxOpenFiles:  cfg.MaxOpenFiles,
		CreateMessage: s.createMessage,
		Callback:      s.handle,
	}, reactor.WithLogger(logger)); err != nil {
		return nil, err
	}

	if err = s.poller.Add(&reactor.Data{
		Operation: reactor.OpListen,
		FD:        s.lfd,
		Accept:    s.accept,
	}, reactor.NoTimeout); err != nil {
		return nil, err
	}

	if err = s.poller.Start(); err != nil {
		return nil, err
	}

	if cfg.StatsInterval > 0 {
		s.stats = timer.NewElement(s.logStats, nil)
		if err = s.timers.Add(s.stats, time.Duration(cfg.StatsInterval)); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Stringer(`addr`, s.addr).
		Int(`workers`, cfg.Workers).
		Str(`root`, cfg.DocRoot).
		Log(`listening`)

	return s, nil
}

// Addr returns the bound listen address.
func (s *server) Addr() net.Addr { return s.addr }

// Serve blocks until ctx is canceled, then shuts down gracefully.
func (s *server) Serve(ctx context.Context) error {
	<-ctx.Done()
	return s.shutdown()
}

// shutdown stops accepting, waits for in-flight requests (bounded by the
// grace period), then releases everything, closing idle connections.
func (s *server) shutdown() error {
	s.draining.Store(true)

	if err := s.poller.Remove(s.lfd); err != nil {
		s.logger.Warning().
			Err(err).
			Log(`failed to remove listener`)
	}

	graceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grace := timer.NewElement(func(any) { cancel() }, nil)
	if err := s.timers.Add(grace, time.Duration(s.cfg.ShutdownGrace)); err != nil {
		cancel()
	}

	s.logger.Info().
		Int64(`busy`, s.busy.Load()).
		Dur(`grace`, time.Duration(s.cfg.ShutdownGrace)).
		Log(`shutting down`)

	g, gctx := errgroup.WithContext(graceCtx)
	g.Go(func() error {
		return s.pool.Shutdown(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for s.busy.Load() > 0 {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
		return nil
	})
	err := g.Wait()
	if err != nil {
		s.logger.Warning().
			Err(err).
			Int64(`busy`, s.busy.Load()).
			Log(`shutdown grace period exceeded`)
	}

	s.timers.Remove(grace)
	if closeErr := s.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	s.logStats(nil)

	return err
}

func (s *server) close() error {
	var errs []error
	if s.pool != nil {
		errs = append(errs, s.pool.Close())
	}
	if s.poller != nil {
		// remaining connections are delivered as stopped, and closed
		errs = append(errs, s.poller.Close())
	}
	if s.timers != nil {
		errs = append(errs, s.timers.Close())
	}
	if s.lfd >= 0 {
		if err := unix.Close(s.lfd); err != nil {
			errs = append(errs, fmt.Errorf(`close listener: %w`, err))
		}
		s.lfd = -1
	}
	return errors.Join(errs...)
}

func (s *server) logStats(any) {
	s.logger.Info().
		Uint64(`accepted`, s.accepted.Load()).
		Uint64(`requests`, s.requests.Load()).
		Uint64(`timeouts`, s.timeouts.Load()).
		Uint64(`rejected`, s.rejected.Load()).
		Int64(`open`, s.open.Load()).
		Int(`nodes`, s.poller.Len()).
		Log(`stats`)

	if s.stats != nil && !s.draining.Load() {
		if err := s.timers.Add(s.stats, time.Duration(s.cfg.StatsInterval)); err != nil && !errors.Is(err, timer.ErrAlreadyScheduled) {
			s.logger.Debug().
				Err(err).
				Log(`stats timer not rescheduled`)
		}
	}
}

func (s *server) accept(fd int, _ unix.Sockaddr, _ any) (any, error) {
	if s.draining.Load() {
		return nil, errors.New(`draining`)
	}
	return &conn{fd: fd}, nil
}

func (s *server) createMessage(ctx any) (reactor.Message, error) {
	c, ok := ctx.(*conn)
	if !ok {
		return nil, errors.New(`unexpected read context`)
	}
	req := new(httpconn.Request)
	c.mu.Lock()
	c.partial = req
	c.mu.Unlock()
	return req, nil
}

func (s *server) handle(res *reactor.Result) {
	switch res.Data.Operation {
	case reactor.OpListen:
		s.handleListen(res)
	case reactor.OpRead:
		s.handleRead(res)
	case reactor.OpWrite:
		s.handleWrite(res)
	case reactor.OpTimer:
		s.handleReply(res)
	}
}

func (s *server) handleListen(res *reactor.Result) {
	switch res.State {
	case reactor.StateSuccess:
		c := res.Data.Value.(*conn)
		s.accepted.Add(1)
		s.open.Add(1)
		if err := s.poller.Add(&reactor.Data{
			Operation: reactor.OpRead,
			FD:        c.fd,
			Context:   c,
		}, time.Duration(s.cfg.IdleTimeout)); err != nil {
			s.logger.Warning().
				Err(err).
				Int(`fd`, c.fd).
				Log(`failed to register connection`)
			s.closeConn(c)
		}
	case reactor.StateError:
		s.logger.Err().
			Err(res.Err).
			Log(`listener failed`)
	}
}

func (s *server) handleRead(res *reactor.Result) {
	c := res.Data.Context.(*conn)

	switch res.State {
	case reactor.StateSuccess:
		req := res.Data.Message.(*httpconn.Request)
		s.requests.Add(1)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.partial == req {
			c.partial = nil
		}
		if c.busy {
			c.pending = append(c.pending, req)
			return
		}
		// the idle timeout resumes once the response is written
		_ = s.poller.SetTimeout(c.fd, reactor.NoTimeout)
		s.serveLocked(c, req, s.poller.Modify)

	case reactor.StateModified:
		// replaced by a write

	case reactor.StateFinished:
		c.mu.Lock()
		if c.busy {
			c.eof = true
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		s.release(c)

	case reactor.StateError:
		if errors.Is(res.Err, reactor.ErrTimeout) {
			s.timeouts.Add(1)
		}
		if status := errorStatus(res.Err); status != 0 {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !c.busy {
				c.busy = true
				s.busy.Add(1)
				s.respondLocked(c, httpconn.ErrorResponse(status), s.poller.Add)
				return
			}
		}
		s.release(c)

	default:
		s.release(c)
	}
}

func (s *server) handleWrite(res *reactor.Result) {
	c := res.Data.Context.(*conn)

	if res.State != reactor.StateFinished {
		if res.State == reactor.StateError {
			s.logger.Debug().
				Err(res.Err).
				Int(`fd`, c.fd).
				Log(`write failed`)
			if errors.Is(res.Err, reactor.ErrTimeout) {
				s.timeouts.Add(1)
			}
		}
		c.mu.Lock()
		if c.busy {
			c.busy = false
			s.busy.Add(-1)
		}
		c.mu.Unlock()
		s.release(c)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.keepAlive || s.draining.Load() || (c.eof && len(c.pending) == 0) {
		c.busy = false
		s.busy.Add(-1)
		s.closeConnLocked(c)
		return
	}

	if len(c.pending) != 0 {
		req := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.busy = false
		s.busy.Add(-1)
		s.serveLocked(c, req, s.poller.Add)
		return
	}

	c.busy = false
	s.busy.Add(-1)
	data := &reactor.Data{
		Operation: reactor.OpRead,
		FD:        c.fd,
		Context:   c,
	}
	if c.partial != nil {
		data.Message = c.partial
	}
	if err := s.poller.Add(data, time.Duration(s.cfg.IdleTimeout)); err != nil {
		s.logger.Warning().
			Err(err).
			Int(`fd`, c.fd).
			Log(`failed to re-register connection`)
		s.closeConnLocked(c)
	}
}

// serveLocked hands req to the pool. The response is posted back to the
// loop, as a timer, and written by a node registered using register, i.e.
// Modify, replacing the read node of c, or Add, if c has no node.
func (s *server) serveLocked(c *conn, req *httpconn.Request, register func(*reactor.Data, time.Duration) error) {
	c.busy = true
	s.busy.Add(1)

	_, err := s.pool.Submit(func(ctx context.Context) error {
		r := &reply{conn: c, res: s.handler.Serve(req), register: register}
		if _, err := s.poller.AddTimer(0, r); err != nil {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.busy = false
			s.busy.Add(-1)
			s.closeConnLocked(c)
			return err
		}
		return nil
	})
	if err == nil {
		return
	}

	s.rejected.Add(1)
	status := http.StatusServiceUnavailable
	if !errors.Is(err, workpool.ErrQueueFull) && !errors.Is(err, workpool.ErrShuttingDown) {
		status = http.StatusInternalServerError
	}
	s.respondLocked(c, httpconn.ErrorResponse(status), register)
}

// handleReply registers the write of a response, from the loop goroutine,
// which guarantees the read node of the connection is not mid-buffer.
func (s *server) handleReply(res *reactor.Result) {
	r := res.Data.Context.(*reply)
	c := r.conn

	c.mu.Lock()
	defer c.mu.Unlock()

	if res.State != reactor.StateFinished || c.dead {
		c.busy = false
		s.busy.Add(-1)
		s.closeConnLocked(c)
		return
	}

	register := r.register
	if c.eof {
		// the read node is gone
		register = s.poller.Add
	}
	s.respondLocked(c, r.res, register)
}

// respondLocked registers a write of res, using register (Add or Modify).
func (s *server) respondLocked(c *conn, res *httpconn.Response, register func(*reactor.Data, time.Duration) error) {
	c.keepAlive = res.KeepAlive
	if err := register(&reactor.Data{
		Operation: reactor.OpWrite,
		FD:        c.fd,
		Context:   c,
		Buffers:   res.Buffers(),
	}, time.Duration(s.cfg.WriteTimeout)); err != nil {
		s.logger.Debug().
			Err(err).
			Int(`fd`, c.fd).
			Log(`failed to register response`)
		c.busy = false
		s.busy.Add(-1)
		s.closeConnLocked(c)
	}
}

// release closes c once it has no request being served.
func (s *server) release(c *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		c.dead = true
		return
	}
	s.closeConnLocked(c)
}

func (s *server) closeConn(c *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.closeConnLocked(c)
}

func (s *server) closeConnLocked(c *conn) {
	if c.fd < 0 {
		return
	}
	// the node may still be registered, e.g. after a failed Modify
	_ = s.poller.Remove(c.fd)
	_ = unix.Close(c.fd)
	c.fd = -1
	c.dead = true
	s.open.Add(-1)
}

// errorStatus maps read failures that deserve a response.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, httpconn.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, httpconn.ErrMalformed):
		return http.StatusBadRequest
	default:
		return 0
	}
}
