package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/xeylabs/xbot/internal/config"
	xerrors "github.com/xeylabs/xbot/internal/errors"
)

type fakeCaller struct {
	mu       sync.Mutex
	scripted []error
	requests []api.Chattable
}

func (f *fakeCaller) Request(c api.Chattable) (*api.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if len(f.scripted) > 0 {
		err := f.scripted[0]
		f.scripted = f.scripted[1:]
		if err != nil {
			return nil, err
		}
	}
	return &api.APIResponse{Ok: true, Result: json.RawMessage(`{"message_id":7}`)}, nil
}

func (f *fakeCaller) GetMe() (api.User, error) {
	return api.User{ID: 42, UserName: "xbot"}, nil
}

func (f *fakeCaller) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return true
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.sleeps))
	copy(out, r.sleeps)
	return out
}

func newTestGateway(t *testing.T, caller *fakeCaller) (*Gateway, *sleepRecorder) {
	t.Helper()
	gw := New(caller, config.Gateway{MinInterval: 400 * time.Millisecond, MaxAttempts: 5})
	rec := &sleepRecorder{}
	gw.sleep = rec.sleep
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Stop(stopCtx)
	})
	return gw, rec
}

func TestSendDecodesMessage(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{}
	gw, _ := newTestGateway(t, caller)

	msg, err := gw.SendText(context.Background(), 100, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil || msg.MessageID != 7 {
		t.Fatalf("expected decoded message 7, got %+v", msg)
	}
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{scripted: []error{
		&api.Error{Code: 429, Message: "Too Many Requests: retry after 3", ResponseParameters: api.ResponseParameters{RetryAfter: 3}},
		nil,
	}}
	gw, rec := newTestGateway(t, caller)

	if _, err := gw.SendText(context.Background(), 100, "spaced"); err != nil {
		t.Fatalf("call should recover after rate limit, got %v", err)
	}
	if caller.requestCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", caller.requestCount())
	}
	var sawRetryAfter bool
	for _, d := range rec.recorded() {
		if d == 3*time.Second {
			sawRetryAfter = true
		}
	}
	if !sawRetryAfter {
		t.Fatalf("expected a 3s retry-after pause, recorded %v", rec.recorded())
	}
}

func TestServerErrorsBackOffThenExhaust(t *testing.T) {
	t.Parallel()
	serverErr := &api.Error{Code: 502, Message: "Bad Gateway"}
	caller := &fakeCaller{scripted: []error{serverErr, serverErr, serverErr, serverErr, serverErr}}
	gw, rec := newTestGateway(t, caller)

	_, err := gw.SendText(context.Background(), 100, "doomed")
	if !errors.Is(err, xerrors.ErrDeliveryExhausted) {
		t.Fatalf("expected ErrDeliveryExhausted, got %v", err)
	}
	if caller.requestCount() != 5 {
		t.Fatalf("expected 5 attempts, got %d", caller.requestCount())
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	var backoffs []time.Duration
	for _, d := range rec.recorded() {
		if d >= time.Second {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != len(want) {
		t.Fatalf("expected %d backoff pauses, recorded %v", len(want), backoffs)
	}
	for i := range want {
		if backoffs[i] != want[i] {
			t.Fatalf("backoff %d: want %v, got %v", i, want[i], backoffs[i])
		}
	}
}

func TestTolerantCallSwallowsIgnorableOutcome(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{scripted: []error{
		&api.Error{Code: 400, Message: "Bad Request: message is not modified"},
	}}
	gw, _ := newTestGateway(t, caller)

	if err := gw.EditText(context.Background(), 100, 7, "same text"); err != nil {
		t.Fatalf("edit should tolerate not-modified, got %v", err)
	}
	if caller.requestCount() != 1 {
		t.Fatalf("ignorable outcome must not be retried, got %d attempts", caller.requestCount())
	}
}

func TestStrictCallSurfacesIgnorableOutcome(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{scripted: []error{
		&api.Error{Code: 400, Message: "Bad Request: message to delete not found"},
		&api.Error{Code: 400, Message: "Bad Request: message to delete not found"},
	}}
	gw, _ := newTestGateway(t, caller)

	if _, err := gw.SendText(context.Background(), 100, "strict"); err == nil {
		t.Fatal("strict call must surface the error")
	}
}

func TestNoPrivilegesIsNotRetried(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{scripted: []error{
		&api.Error{Code: 400, Message: "Bad Request: not enough rights to restrict/unrestrict chat member"},
	}}
	gw, _ := newTestGateway(t, caller)

	err := gw.RestrictMember(context.Background(), 100, 7, time.Now().Add(time.Minute))
	if !errors.Is(err, xerrors.ErrNoPrivileges) {
		t.Fatalf("expected ErrNoPrivileges, got %v", err)
	}
	if caller.requestCount() != 1 {
		t.Fatalf("privilege errors must not be retried, got %d attempts", caller.requestCount())
	}
}

func TestCallsKeepMinimumSpacing(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{}
	gw, rec := newTestGateway(t, caller)

	for i := 0; i < 3; i++ {
		if _, err := gw.SendText(context.Background(), 100, "tick"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	var spacing int
	for _, d := range rec.recorded() {
		if d > 0 && d <= 400*time.Millisecond {
			spacing++
		}
	}
	if spacing < 2 {
		t.Fatalf("expected spacing pauses between calls, recorded %v", rec.recorded())
	}
}

func TestSelfRoundTripsThroughWorker(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{}
	gw, _ := newTestGateway(t, caller)

	self, err := gw.Self(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if self.ID != 42 || self.UserName != "xbot" {
		t.Fatalf("unexpected identity: %+v", self)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name string
		err  error
		want outcomeKind
	}{
		{"rate limit", &api.Error{Code: 429, ResponseParameters: api.ResponseParameters{RetryAfter: 5}}, outcomeRateLimited},
		{"server error", &api.Error{Code: 500, Message: "Internal Server Error"}, outcomeTransient},
		{"network failure", errors.New("dial tcp: connection refused"), outcomeTransient},
		{"not modified", &api.Error{Code: 400, Message: "Bad Request: message is not modified"}, outcomeIgnorable},
		{"stale query", &api.Error{Code: 400, Message: "Bad Request: query is too old and response timeout expired"}, outcomeIgnorable},
		{"no rights", &api.Error{Code: 400, Message: "Bad Request: not enough rights"}, outcomeNoPrivileges},
		{"hard error", &api.Error{Code: 400, Message: "Bad Request: chat not found"}, outcomeHard},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify(tt.err)
			if got.kind != tt.want {
				t.Fatalf("want kind %d, got %d", tt.want, got.kind)
			}
			if tt.want == outcomeRateLimited && got.retryAfter != 5*time.Second {
				t.Fatalf("want 5s retry-after, got %v", got.retryAfter)
			}
		})
	}
}
