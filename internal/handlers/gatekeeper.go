package handlers

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/bot"
	"github.com/xeylabs/xbot/internal/verify"
)

// Gatekeeper routes join events and confirmation button presses to the
// verifier.
type Gatekeeper struct {
	s        bot.Service
	verifier *verify.Verifier
}

func NewGatekeeper(s bot.Service, verifier *verify.Verifier) *Gatekeeper {
	return &Gatekeeper{
		s:        s,
		verifier: verifier,
	}
}

func (h *Gatekeeper) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if chat == nil {
		return true, nil
	}

	if cq := u.CallbackQuery; cq != nil && strings.HasPrefix(cq.Data, verify.CallbackPrefix+";") {
		if user == nil {
			return true, nil
		}
		if err := h.verifier.HandleCallback(ctx, chat, user, cq); err != nil {
			h.getLogEntry().WithField("error", err.Error()).Error("cant handle confirmation")
		}
		return false, nil
	}

	m := u.Message
	if m == nil || len(m.NewChatMembers) == 0 {
		return true, nil
	}
	if !chat.IsGroup() && !chat.IsSuperGroup() {
		return true, nil
	}

	settings := h.s.GetSettings(ctx, chat.ID)
	for i := range m.NewChatMembers {
		member := &m.NewChatMembers[i]
		if member.IsBot {
			continue
		}
		if err := h.s.InsertMember(ctx, chat.ID, member.ID); err != nil {
			h.getLogEntry().WithField("error", err.Error()).Warn("cant persist member")
		}
		if err := h.verifier.HandleJoin(ctx, chat, member, settings); err != nil {
			h.getLogEntry().WithFields(log.Fields{"user": member.ID, "error": err.Error()}).Error("cant handle join")
		}
	}
	return false, nil
}

func (h *Gatekeeper) getLogEntry() *log.Entry {
	return log.WithField("object", "Gatekeeper")
}
