package moderation

import (
	"context"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/bot"
	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/detector"
	xerrors "github.com/xeylabs/xbot/internal/errors"
	"github.com/xeylabs/xbot/internal/gateway"
	"github.com/xeylabs/xbot/internal/i18n"
	"github.com/xeylabs/xbot/internal/theme"
)

type Tier int

const (
	TierNone Tier = iota
	TierWarn
	TierRestrict
	TierRemove
)

func (t Tier) String() string {
	switch t {
	case TierWarn:
		return "warn"
	case TierRestrict:
		return "restrict"
	case TierRemove:
		return "remove"
	default:
		return "none"
	}
}

// Notifier receives structured incident events. Implementations must swallow
// their own failures; escalation never checks them.
type Notifier interface {
	Record(ctx context.Context, chatID int64, kind string, payload map[string]any)
}

// Escalator turns accumulated warnings into enforcement. The counter is
// monotonic per activity record: severity only goes up until the record
// decays out of the detector.
type Escalator struct {
	gw          *gateway.Gateway
	det         *detector.Detector
	notifier    Notifier
	restrictFor time.Duration
}

func NewEscalator(gw *gateway.Gateway, det *detector.Detector, notifier Notifier, cfg config.SpamControl) *Escalator {
	return &Escalator{
		gw:          gw,
		det:         det,
		notifier:    notifier,
		restrictFor: cfg.RestrictDuration,
	}
}

// Escalate applies the tier matching the user's new warning total: first
// offense warns, second mutes for the configured duration, third and later
// remove. Delivery failures degrade to a logged skip so one stubborn chat
// cannot stall message processing.
func (e *Escalator) Escalate(ctx context.Context, chat *api.Chat, user *api.User, messageID int, settings *db.Settings, verdict *detector.Verdict) Tier {
	entry := log.WithFields(log.Fields{
		"object":  "Escalator",
		"chat":    chat.ID,
		"user":    user.ID,
		"verdict": string(verdict.Kind),
	})

	warnings := e.det.AddWarning(chat.ID, user.ID)
	if warnings == 0 {
		entry.Warn("no activity record to escalate")
		return TierNone
	}

	if messageID != 0 {
		if err := e.gw.DeleteMessage(ctx, chat.ID, messageID); err != nil {
			entry.WithField("error", err.Error()).Warn("cant delete offending message")
		}
	}

	icon := theme.Icon(settings.Theme, "spam")
	name := bot.GetUN(user)
	tier := tierFor(warnings)

	var err error
	switch tier {
	case TierWarn:
		text := fmt.Sprintf(i18n.Get("Warning for %s: please do not spam (%s).", settings.Language), name, verdict.Reason)
		_, err = e.gw.SendText(ctx, chat.ID, icon+" "+text)
	case TierRestrict:
		if err = e.gw.RestrictMember(ctx, chat.ID, user.ID, time.Now().Add(e.restrictFor)); err == nil {
			text := fmt.Sprintf(i18n.Get("%s has been muted for %d minutes for spamming (%s).", settings.Language), name, int(e.restrictFor.Minutes()), verdict.Reason)
			_, err = e.gw.SendText(ctx, chat.ID, icon+" "+text)
		}
	case TierRemove:
		if err = e.gw.BanMember(ctx, chat.ID, user.ID, time.Time{}, true); err == nil {
			text := fmt.Sprintf(i18n.Get("%s has been removed for repeated spam (%s).", settings.Language), name, verdict.Reason)
			_, err = e.gw.SendText(ctx, chat.ID, icon+" "+text)
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, xerrors.ErrDeliveryExhausted):
		entry.WithField("tier", tier.String()).Warn("delivery exhausted, skipping enforcement step")
	case errors.Is(err, xerrors.ErrNoPrivileges):
		entry.WithField("tier", tier.String()).Warn("missing privileges for enforcement")
	default:
		entry.WithField("error", err.Error()).Error("enforcement failed")
	}

	e.notifier.Record(ctx, chat.ID, "spam", map[string]any{
		"rule":     string(verdict.Kind),
		"reason":   verdict.Reason,
		"tier":     tier.String(),
		"warnings": warnings,
		"user_id":  user.ID,
		"user":     name,
	})
	return tier
}

func tierFor(warnings int) Tier {
	switch {
	case warnings <= 1:
		return TierWarn
	case warnings == 2:
		return TierRestrict
	default:
		return TierRemove
	}
}
