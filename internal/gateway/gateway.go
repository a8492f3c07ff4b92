package gateway

import (
	"context"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/config"
	xerrors "github.com/xeylabs/xbot/internal/errors"
	"github.com/xeylabs/xbot/internal/observability"
)

// Caller is the slice of the bot API client the gateway dispatches through.
type Caller interface {
	Request(c api.Chattable) (*api.APIResponse, error)
	GetMe() (api.User, error)
}

type job struct {
	method   string
	tolerant bool
	exec     func(Caller) (*api.APIResponse, error)
	done     chan result
}

type result struct {
	resp *api.APIResponse
	err  error
}

// Gateway serializes every outbound platform call through a single worker,
// keeps a minimum spacing between dispatches and retries rate-limit and
// server errors before giving up with ErrDeliveryExhausted. Submission order
// is dispatch order.
type Gateway struct {
	caller      Caller
	queue       chan *job
	minInterval time.Duration
	maxAttempts int

	// sleep is swapped out in tests; it returns false when ctx ended first.
	sleep func(ctx context.Context, d time.Duration) bool

	runMutex  sync.Mutex
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

const queueCapacity = 1024

func New(caller Caller, cfg config.Gateway) *Gateway {
	return &Gateway{
		caller:      caller,
		queue:       make(chan *job, queueCapacity),
		minInterval: cfg.MinInterval,
		maxAttempts: cfg.MaxAttempts,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (g *Gateway) Start(ctx context.Context) error {
	g.runMutex.Lock()
	defer g.runMutex.Unlock()
	if g.started {
		return nil
	}
	g.runCtx, g.runCancel = context.WithCancel(ctx)
	g.started = true

	g.workerWG.Add(1)
	go func() {
		defer g.workerWG.Done()
		g.run(g.runCtx)
	}()
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	g.runMutex.Lock()
	if !g.started {
		g.runMutex.Unlock()
		return nil
	}
	g.started = false
	cancel := g.runCancel
	g.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.workerWG.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (g *Gateway) run(ctx context.Context) {
	var lastDispatch time.Time
	for {
		select {
		case <-ctx.Done():
			g.failPending(ctx.Err())
			return
		case j := <-g.queue:
			if wait := g.minInterval - time.Since(lastDispatch); wait > 0 {
				if !g.sleep(ctx, wait) {
					j.done <- result{err: ctx.Err()}
					g.failPending(ctx.Err())
					return
				}
			}
			resp, err := g.dispatch(ctx, j)
			lastDispatch = time.Now()
			j.done <- result{resp: resp, err: err}
		}
	}
}

func (g *Gateway) failPending(err error) {
	for {
		select {
		case j := <-g.queue:
			j.done <- result{err: err}
		default:
			return
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, j *job) (*api.APIResponse, error) {
	entry := log.WithFields(log.Fields{"object": "Gateway", "call": j.method})
	observability.RecordGatewayCall(j.method)

	backoff := time.Second
	for attempt := 1; ; attempt++ {
		resp, err := j.exec(g.caller)
		if err == nil {
			return resp, nil
		}

		outcome := classify(err)
		switch outcome.kind {
		case outcomeIgnorable:
			if j.tolerant {
				entry.WithField("reason", err.Error()).Debug("ignorable outcome, resolving as no-result")
				return nil, nil
			}
			return nil, err
		case outcomeNoPrivileges:
			return nil, errors.WithMessage(xerrors.ErrNoPrivileges, j.method)
		case outcomeRateLimited:
			observability.RecordGatewayRetry("rate_limit")
			entry.WithFields(log.Fields{"attempt": attempt, "retry_after": outcome.retryAfter.String()}).Warn("rate limit hit")
			if attempt >= g.maxAttempts {
				return nil, errors.WithMessagef(xerrors.ErrDeliveryExhausted, "%s after %d attempts", j.method, attempt)
			}
			if !g.sleep(ctx, outcome.retryAfter) {
				return nil, ctx.Err()
			}
		case outcomeTransient:
			observability.RecordGatewayRetry("server_error")
			entry.WithFields(log.Fields{"attempt": attempt, "error": err.Error()}).Warn("transient delivery error")
			if attempt >= g.maxAttempts {
				return nil, errors.WithMessagef(xerrors.ErrDeliveryExhausted, "%s after %d attempts", j.method, attempt)
			}
			if !g.sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff *= 2
		default:
			return nil, err
		}
	}
}

// submit queues the call and waits for its terminal outcome. The call itself
// is never cancelled mid-flight; ctx only releases the waiting caller.
func (g *Gateway) submit(ctx context.Context, method string, tolerant bool, exec func(Caller) (*api.APIResponse, error)) (*api.APIResponse, error) {
	j := &job{
		method:   method,
		tolerant: tolerant,
		exec:     exec,
		done:     make(chan result, 1),
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case g.queue <- j:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-j.done:
		return res.resp, res.err
	}
}

func (g *Gateway) request(ctx context.Context, method string, tolerant bool, payload api.Chattable) (*api.APIResponse, error) {
	return g.submit(ctx, method, tolerant, func(c Caller) (*api.APIResponse, error) {
		return c.Request(payload)
	})
}
