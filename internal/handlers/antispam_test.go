package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/xeylabs/xbot/internal/adapters/llm"
	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/detector"
	"github.com/xeylabs/xbot/internal/gateway"
	"github.com/xeylabs/xbot/internal/moderation"
)

type fakeCaller struct {
	mu           sync.Mutex
	requests     []api.Chattable
	memberStatus string
}

func (f *fakeCaller) Request(c api.Chattable) (*api.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if _, ok := c.(api.GetChatMemberConfig); ok {
		raw := fmt.Sprintf(`{"status":%q,"user":{"id":7}}`, f.memberStatus)
		return &api.APIResponse{Ok: true, Result: json.RawMessage(raw)}, nil
	}
	return &api.APIResponse{Ok: true, Result: json.RawMessage(`{"message_id":1}`)}, nil
}

func (f *fakeCaller) GetMe() (api.User, error) { return api.User{ID: 1}, nil }

func (f *fakeCaller) memberChecks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, req := range f.requests {
		if _, ok := req.(api.GetChatMemberConfig); ok {
			n++
		}
	}
	return n
}

func (f *fakeCaller) counts() (deletes, sends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		switch req.(type) {
		case api.DeleteMessageConfig:
			deletes++
		case api.MessageConfig:
			sends++
		}
	}
	return
}

type fakeService struct {
	gw       *gateway.Gateway
	client   db.Client
	settings *db.Settings
	mu       sync.Mutex
	members  map[detector.Key]bool
}

func (f *fakeService) GetGateway() *gateway.Gateway { return f.gw }
func (f *fakeService) GetDB() db.Client             { return f.client }
func (f *fakeService) GetSettings(context.Context, int64) *db.Settings {
	return f.settings
}
func (f *fakeService) SetSettings(_ context.Context, s *db.Settings) error {
	f.settings = s
	return nil
}
func (f *fakeService) GetLanguage(context.Context, int64) string { return "en" }
func (f *fakeService) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[detector.Key{ChatID: chatID, UserID: userID}], nil
}
func (f *fakeService) InsertMember(_ context.Context, chatID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[detector.Key{ChatID: chatID, UserID: userID}] = true
	return nil
}

type fakeLLM struct {
	spam bool
}

func (f *fakeLLM) ChatCompletion(context.Context, []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	return llm.ChatCompletionResponse{}, nil
}

func (f *fakeLLM) Detect(context.Context, string) (*bool, error) {
	spam := f.spam
	return &spam, nil
}

type fakeNotifier struct{}

func (fakeNotifier) Record(context.Context, int64, string, map[string]any) {}

func newAntiSpamFixture(t *testing.T, settings *db.Settings, llmSpam *bool) (*AntiSpam, *fakeCaller) {
	t.Helper()
	caller := &fakeCaller{memberStatus: "member"}
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
	esc := moderation.NewEscalator(gw, det, fakeNotifier{}, config.SpamControl{RestrictDuration: 10 * time.Minute})
	svc := &fakeService{gw: gw, settings: settings, members: map[detector.Key]bool{}}
	cfg := &config.Config{OwnerIDs: []int64{999}}

	var llm *fakeLLM
	if llmSpam != nil {
		llm = &fakeLLM{spam: *llmSpam}
	}
	var h *AntiSpam
	if llm != nil {
		h = NewAntiSpam(svc, det, esc, llm, cfg)
	} else {
		h = NewAntiSpam(svc, det, esc, nil, cfg)
	}
	return h, caller
}

func groupMessage(text string, messageID int) (*api.Update, *api.Chat, *api.User) {
	chat := &api.Chat{ID: 100, Type: "supergroup", Title: "testers"}
	user := &api.User{ID: 7, UserName: "noisy"}
	u := &api.Update{Message: &api.Message{
		MessageID: messageID,
		From:      user,
		Chat:      *chat,
		Date:      int(time.Now().Unix()),
		Text:      text,
	}}
	return u, chat, user
}

func floodSettings() *db.Settings {
	s := db.DefaultSettings(100)
	s.AntiSpamEnabled = true
	s.FloodCount = 3
	s.FloodWindowSec = 5
	return s
}

func TestAntiSpamEscalatesOnFlood(t *testing.T) {
	t.Parallel()
	h, caller := newAntiSpamFixture(t, floodSettings(), nil)

	for i := 1; i <= 2; i++ {
		u, chat, user := groupMessage(fmt.Sprintf("hi %d", i), i)
		proceed, err := h.Handle(context.Background(), u, chat, user)
		if err != nil || !proceed {
			t.Fatalf("message %d should pass, proceed=%v err=%v", i, proceed, err)
		}
	}
	u, chat, user := groupMessage("hi 3", 3)
	proceed, err := h.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if proceed {
		t.Fatal("flood verdict must stop the handler chain")
	}
	deletes, sends := caller.counts()
	if deletes != 1 {
		t.Fatalf("offending message should be deleted, got %d deletes", deletes)
	}
	if sends != 1 {
		t.Fatalf("first violation warns once, got %d sends", sends)
	}
}

func TestAntiSpamSkipsWhenDisabled(t *testing.T) {
	t.Parallel()
	settings := floodSettings()
	settings.AntiSpamEnabled = false
	h, caller := newAntiSpamFixture(t, settings, nil)

	for i := 1; i <= 5; i++ {
		u, chat, user := groupMessage("same", i)
		proceed, err := h.Handle(context.Background(), u, chat, user)
		if err != nil || !proceed {
			t.Fatalf("disabled antispam must pass everything, proceed=%v err=%v", proceed, err)
		}
	}
	if deletes, sends := caller.counts(); deletes != 0 || sends != 0 {
		t.Fatalf("no actions expected, got deletes=%d sends=%d", deletes, sends)
	}
}

func TestAntiSpamExemptsAdmins(t *testing.T) {
	t.Parallel()
	h, caller := newAntiSpamFixture(t, floodSettings(), nil)
	caller.memberStatus = "administrator"

	for i := 1; i <= 5; i++ {
		u, chat, user := groupMessage("spamspamspam", i)
		proceed, err := h.Handle(context.Background(), u, chat, user)
		if err != nil || !proceed {
			t.Fatalf("admin must be exempt, proceed=%v err=%v", proceed, err)
		}
	}
	if deletes, _ := caller.counts(); deletes != 0 {
		t.Fatalf("no deletions for admins, got %d", deletes)
	}
}

func TestAntiSpamCachesMemberStatus(t *testing.T) {
	t.Parallel()
	h, caller := newAntiSpamFixture(t, floodSettings(), nil)
	caller.memberStatus = "administrator"

	for i := 1; i <= 4; i++ {
		u, chat, user := groupMessage(fmt.Sprintf("hi %d", i), i)
		proceed, err := h.Handle(context.Background(), u, chat, user)
		if err != nil || !proceed {
			t.Fatalf("admin must be exempt, proceed=%v err=%v", proceed, err)
		}
	}
	if got := caller.memberChecks(); got != 1 {
		t.Fatalf("member status should be fetched once and cached, got %d lookups", got)
	}
}

func TestAntiSpamIgnoresPrivateChats(t *testing.T) {
	t.Parallel()
	h, _ := newAntiSpamFixture(t, floodSettings(), nil)
	chat := &api.Chat{ID: 7, Type: "private"}
	user := &api.User{ID: 7}
	u := &api.Update{Message: &api.Message{MessageID: 1, From: user, Chat: *chat, Date: int(time.Now().Unix()), Text: "hello"}}

	proceed, err := h.Handle(context.Background(), u, chat, user)
	if err != nil || !proceed {
		t.Fatalf("private chats are out of scope, proceed=%v err=%v", proceed, err)
	}
}

func TestAntiSpamModelFlagsFirstMessage(t *testing.T) {
	t.Parallel()
	settings := floodSettings()
	settings.LLMCheckEnabled = true
	spam := true
	h, caller := newAntiSpamFixture(t, settings, &spam)

	u, chat, user := groupMessage("totally legit investment", 1)
	proceed, err := h.Handle(context.Background(), u, chat, user)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if proceed {
		t.Fatal("model-flagged first message must stop the chain")
	}
	if deletes, _ := caller.counts(); deletes != 1 {
		t.Fatalf("flagged message should be deleted, got %d deletes", deletes)
	}

	// The second message is no longer the first and skips the model.
	u, chat, user = groupMessage("hello again", 2)
	proceed, err = h.Handle(context.Background(), u, chat, user)
	if err != nil || !proceed {
		t.Fatalf("second message should pass, proceed=%v err=%v", proceed, err)
	}
}
