package moderation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/detector"
	"github.com/xeylabs/xbot/internal/gateway"
)

type fakeCaller struct {
	mu       sync.Mutex
	failWith error
	requests []api.Chattable
}

func (f *fakeCaller) Request(c api.Chattable) (*api.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &api.APIResponse{Ok: true, Result: json.RawMessage(`{"message_id":1}`)}, nil
}

func (f *fakeCaller) GetMe() (api.User, error) { return api.User{ID: 1}, nil }

func (f *fakeCaller) recorded() []api.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.Chattable, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []map[string]any
}

func (f *fakeNotifier) Record(_ context.Context, _ int64, kind string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := map[string]any{"kind": kind}
	for k, v := range payload {
		event[k] = v
	}
	f.events = append(f.events, event)
}

func newTestEscalator(t *testing.T, caller *fakeCaller) (*Escalator, *detector.Detector, *fakeNotifier) {
	t.Helper()
	gw := gateway.New(caller, config.Gateway{MinInterval: time.Millisecond, MaxAttempts: 2})
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = gw.Stop(stopCtx)
	})
	det := detector.New(config.SpamControl{RetentionWindow: 5 * time.Minute, SweepInterval: time.Minute})
	notifier := &fakeNotifier{}
	esc := NewEscalator(gw, det, notifier, config.SpamControl{RestrictDuration: 10 * time.Minute})
	return esc, det, notifier
}

func testSubjects() (*api.Chat, *api.User, *db.Settings, *detector.Verdict) {
	chat := &api.Chat{ID: 100, Title: "testers"}
	user := &api.User{ID: 7, UserName: "noisy"}
	settings := db.DefaultSettings(100)
	verdict := &detector.Verdict{Kind: detector.VerdictFlood, Reason: "10 messages within 5s"}
	return chat, user, settings, verdict
}

func TestEscalationTiers(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{}
	esc, det, notifier := newTestEscalator(t, caller)
	chat, user, settings, verdict := testSubjects()
	det.Record(chat.ID, user.ID, "spam", time.Now())

	for i, want := range []Tier{TierWarn, TierRestrict, TierRemove, TierRemove} {
		if got := esc.Escalate(context.Background(), chat, user, 50+i, settings, verdict); got != want {
			t.Fatalf("violation %d: want tier %s, got %s", i+1, want, got)
		}
	}

	var restricts, bans, deletes int
	var restrictUntil int64
	for _, req := range caller.recorded() {
		switch payload := req.(type) {
		case api.RestrictChatMemberConfig:
			restricts++
			restrictUntil = payload.UntilDate
		case api.BanChatMemberConfig:
			bans++
		case api.DeleteMessageConfig:
			deletes++
		}
	}
	if restricts != 1 {
		t.Fatalf("expected exactly one restriction, got %d", restricts)
	}
	if until := time.Unix(restrictUntil, 0); time.Until(until) < 9*time.Minute || time.Until(until) > 11*time.Minute {
		t.Fatalf("restriction should last about 10 minutes, until %v", until)
	}
	if bans != 2 {
		t.Fatalf("expected a ban per remove tier, got %d", bans)
	}
	if deletes != 4 {
		t.Fatalf("every offending message should be deleted, got %d", deletes)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 4 {
		t.Fatalf("expected 4 incident events, got %d", len(notifier.events))
	}
	for i, wantTier := range []string{"warn", "restrict", "remove", "remove"} {
		event := notifier.events[i]
		if event["kind"] != "spam" || event["tier"] != wantTier || event["rule"] != "flood" {
			t.Fatalf("event %d: unexpected payload %v", i, event)
		}
	}
}

func TestEscalationWithoutRecordIsNoop(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{}
	esc, _, notifier := newTestEscalator(t, caller)
	chat, user, settings, verdict := testSubjects()

	if got := esc.Escalate(context.Background(), chat, user, 50, settings, verdict); got != TierNone {
		t.Fatalf("expected no tier without an activity record, got %s", got)
	}
	if len(caller.recorded()) != 0 {
		t.Fatalf("no calls expected, got %d", len(caller.recorded()))
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 0 {
		t.Fatalf("no events expected, got %d", len(notifier.events))
	}
}

func TestEscalationSurvivesDeliveryExhaustion(t *testing.T) {
	t.Parallel()
	caller := &fakeCaller{failWith: &api.Error{Code: 503, Message: "Service Unavailable"}}
	esc, det, notifier := newTestEscalator(t, caller)
	chat, user, settings, verdict := testSubjects()
	det.Record(chat.ID, user.ID, "spam", time.Now())

	if got := esc.Escalate(context.Background(), chat, user, 50, settings, verdict); got != TierWarn {
		t.Fatalf("tier selection must not depend on delivery, got %s", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 {
		t.Fatalf("incident must still be recorded, got %d events", len(notifier.events))
	}
}
