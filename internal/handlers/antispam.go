package handlers

import (
	"context"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/adapters"
	"github.com/xeylabs/xbot/internal/bot"
	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/detector"
	"github.com/xeylabs/xbot/internal/moderation"
)

const (
	llmDetectTimeout = 10 * time.Second

	// Admin status is cached so exemption checks do not occupy the spaced
	// gateway queue on every group message.
	exemptCacheTTL = 5 * time.Minute
)

type memberKey struct {
	ChatID int64
	UserID int64
}

type exemptEntry struct {
	exempt  bool
	expires time.Time
}

// AntiSpam screens group messages: first-ever messages optionally go through
// the model-backed check, every message feeds the sliding-window detector,
// and any verdict is handed to the escalator.
type AntiSpam struct {
	s   bot.Service
	det *detector.Detector
	esc *moderation.Escalator
	llm adapters.LLM
	cfg *config.Config

	mu      sync.Mutex
	exempts map[memberKey]exemptEntry
}

func NewAntiSpam(s bot.Service, det *detector.Detector, esc *moderation.Escalator, llm adapters.LLM, cfg *config.Config) *AntiSpam {
	return &AntiSpam{
		s:       s,
		det:     det,
		esc:     esc,
		llm:     llm,
		cfg:     cfg,
		exempts: map[memberKey]exemptEntry{},
	}
}

func (h *AntiSpam) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if chat == nil || user == nil || u.Message == nil || user.IsBot {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}
	m := u.Message
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" || m.IsCommand() || len(m.NewChatMembers) > 0 {
		return true, nil
	}

	settings := h.s.GetSettings(ctx, chat.ID)
	if !settings.AntiSpamEnabled {
		return true, nil
	}
	if h.isExempt(ctx, chat.ID, user.ID) {
		return true, nil
	}
	entry := h.getLogEntry().WithFields(log.Fields{"chat": chat.ID, "user": user.ID})

	now := time.Unix(int64(m.Date), 0)
	firstMessage, err := h.trackMembership(ctx, chat.ID, user.ID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant track membership")
	}
	h.det.Record(chat.ID, user.ID, text, now)

	if firstMessage && settings.LLMCheckEnabled && h.llm != nil {
		if verdict := h.detectWithModel(ctx, text); verdict != nil {
			h.esc.Escalate(ctx, chat, user, m.MessageID, settings, verdict)
			return false, nil
		}
	}

	if verdict := h.det.Evaluate(ctx, chat.ID, user.ID, text, settings, now); verdict != nil {
		entry.WithField("verdict", string(verdict.Kind)).Info("violation detected")
		h.esc.Escalate(ctx, chat, user, m.MessageID, settings, verdict)
		return false, nil
	}
	return true, nil
}

// isExempt skips the configured owners and live chat admins. A failed status
// lookup counts as not exempt and is not cached; over-moderating an admin is
// recoverable, a spam wave is not.
func (h *AntiSpam) isExempt(ctx context.Context, chatID, userID int64) bool {
	if h.cfg.IsOwner(userID) {
		return true
	}
	key := memberKey{ChatID: chatID, UserID: userID}
	h.mu.Lock()
	entry, ok := h.exempts[key]
	h.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.exempt
	}

	member, err := h.s.GetGateway().MemberStatus(ctx, chatID, userID)
	if err != nil {
		h.getLogEntry().WithField("error", err.Error()).Warn("cant check member status")
		return false
	}
	exempt := member.IsCreator() || member.IsAdministrator()
	h.mu.Lock()
	h.exempts[key] = exemptEntry{exempt: exempt, expires: time.Now().Add(exemptCacheTTL)}
	h.mu.Unlock()
	return exempt
}

func (h *AntiSpam) trackMembership(ctx context.Context, chatID, userID int64) (first bool, err error) {
	known, err := h.s.IsMember(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	if known {
		return false, nil
	}
	return true, h.s.InsertMember(ctx, chatID, userID)
}

func (h *AntiSpam) detectWithModel(ctx context.Context, text string) *detector.Verdict {
	detectCtx, cancel := context.WithTimeout(ctx, llmDetectTimeout)
	defer cancel()
	isSpam, err := h.llm.Detect(detectCtx, text)
	if err != nil {
		h.getLogEntry().WithField("error", err.Error()).Warn("model check failed")
		return nil
	}
	if isSpam == nil || !*isSpam {
		return nil
	}
	return &detector.Verdict{Kind: detector.VerdictLLM, Reason: "first message flagged by the spam model"}
}

func (h *AntiSpam) getLogEntry() *log.Entry {
	return log.WithField("object", "AntiSpam")
}
