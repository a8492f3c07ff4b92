package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/bot"
	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	xerrors "github.com/xeylabs/xbot/internal/errors"
	"github.com/xeylabs/xbot/internal/i18n"
	"github.com/xeylabs/xbot/internal/notifier"
	"github.com/xeylabs/xbot/internal/theme"
)

const (
	defaultMuteDuration = 10 * time.Minute
	defaultPremiumDays  = 30
	statsWindow         = 24 * time.Hour
)

// adminCommands maps command names to whether they are owner-only.
var adminCommands = map[string]bool{
	"ban":      false,
	"unban":    false,
	"mute":     false,
	"unmute":   false,
	"pin":      false,
	"promote":  false,
	"stats":    false,
	"antispam": false,
	"welcome":  false,
	"verify":   false,
	"lang":     false,
	"theme":    false,
	"premium":  true,
}

// Admin is the thin command surface over settings and one-off moderation
// actions. All heavy lifting happens in the gateway and the store.
type Admin struct {
	s        bot.Service
	notifier *notifier.Notifier
	cfg      *config.Config
}

func NewAdmin(s bot.Service, n *notifier.Notifier, cfg *config.Config) *Admin {
	return &Admin{
		s:        s,
		notifier: n,
		cfg:      cfg,
	}
}

func (h *Admin) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if chat == nil || user == nil || u.Message == nil || user.IsBot || !u.Message.IsCommand() {
		return true, nil
	}
	m := u.Message
	cmd := m.Command()
	ownerOnly, known := adminCommands[cmd]
	if !known {
		return true, nil
	}

	settings := h.s.GetSettings(ctx, chat.ID)
	lang := settings.Language

	if !chat.IsGroup() && !chat.IsSuperGroup() {
		h.reply(ctx, chat.ID, i18n.Get("This command must be used in a group.", lang))
		return false, nil
	}
	if ownerOnly && !h.cfg.IsOwner(user.ID) {
		h.reply(ctx, chat.ID, i18n.Get("Owner only.", lang))
		return false, nil
	}
	if !ownerOnly && !h.isPrivileged(ctx, chat.ID, user.ID) {
		h.reply(ctx, chat.ID, i18n.Get("Admins only.", lang))
		return false, nil
	}

	h.getLogEntry().WithFields(log.Fields{"chat": chat.ID, "user": user.ID, "command": cmd}).Debug("admin command")

	args := strings.Fields(m.CommandArguments())
	var err error
	switch cmd {
	case "ban", "unban", "mute", "unmute", "promote":
		err = h.memberCommand(ctx, cmd, chat, m, settings, args)
	case "pin":
		err = h.pin(ctx, chat, m, lang)
	case "stats":
		err = h.stats(ctx, chat, settings)
	case "premium":
		err = h.premium(ctx, chat, settings, args)
	case "antispam", "welcome", "verify", "lang", "theme":
		err = h.configure(ctx, cmd, chat, settings, m.CommandArguments())
	}
	switch {
	case err == nil:
	case errors.Is(err, xerrors.ErrNoPrivileges):
		h.reply(ctx, chat.ID, i18n.Get("Not enough rights to do that.", lang))
	default:
		h.getLogEntry().WithFields(log.Fields{"command": cmd, "error": err.Error()}).Error("command failed")
	}
	return false, nil
}

func (h *Admin) memberCommand(ctx context.Context, cmd string, chat *api.Chat, m *api.Message, settings *db.Settings, args []string) error {
	lang := settings.Language
	if m.ReplyToMessage == nil || m.ReplyToMessage.From == nil {
		h.reply(ctx, chat.ID, i18n.Get("Reply to a message to target a user.", lang))
		return nil
	}
	target := m.ReplyToMessage.From
	gw := h.s.GetGateway()
	name := bot.GetUN(target)

	var err error
	var icon, text string
	switch cmd {
	case "ban":
		err = gw.BanMember(ctx, chat.ID, target.ID, time.Time{}, true)
		icon, text = "kick", fmt.Sprintf(i18n.Get("%s has been banned.", lang), name)
	case "unban":
		err = gw.UnbanMember(ctx, chat.ID, target.ID)
		icon, text = "unmute", fmt.Sprintf(i18n.Get("%s has been unbanned.", lang), name)
	case "mute":
		duration := defaultMuteDuration
		if len(args) > 0 {
			if minutes, convErr := strconv.Atoi(args[0]); convErr == nil && minutes > 0 {
				duration = time.Duration(minutes) * time.Minute
			}
		}
		err = gw.RestrictMember(ctx, chat.ID, target.ID, time.Now().Add(duration))
		icon, text = "mute", fmt.Sprintf(i18n.Get("%s has been muted for %d minutes.", lang), name, int(duration.Minutes()))
	case "unmute":
		err = gw.UnrestrictMember(ctx, chat.ID, target.ID)
		icon, text = "unmute", fmt.Sprintf(i18n.Get("%s has been unmuted.", lang), name)
	case "promote":
		err = gw.PromoteMember(ctx, chat.ID, target.ID)
		icon, text = "verify", fmt.Sprintf(i18n.Get("%s has been promoted.", lang), name)
	}
	if err != nil {
		return err
	}
	h.reply(ctx, chat.ID, theme.Icon(settings.Theme, icon)+" "+text)
	h.notifier.Record(ctx, chat.ID, "admin_action", map[string]any{
		"action":  cmd,
		"user_id": target.ID,
		"user":    name,
	})
	return nil
}

func (h *Admin) pin(ctx context.Context, chat *api.Chat, m *api.Message, lang string) error {
	if m.ReplyToMessage == nil {
		h.reply(ctx, chat.ID, i18n.Get("Reply to the message you want to pin.", lang))
		return nil
	}
	return h.s.GetGateway().PinMessage(ctx, chat.ID, m.ReplyToMessage.MessageID)
}

func (h *Admin) stats(ctx context.Context, chat *api.Chat, settings *db.Settings) error {
	stats, err := h.notifier.Stats(chat.ID, time.Now().Add(-statsWindow))
	if err != nil {
		return errors.WithMessage(err, "cant aggregate stats")
	}
	text := theme.Icon(settings.Theme, "antispam") + " " + notifier.FormatStats(stats, statsWindow)
	h.reply(ctx, chat.ID, text)
	return nil
}

func (h *Admin) premium(ctx context.Context, chat *api.Chat, settings *db.Settings, args []string) error {
	days := defaultPremiumDays
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
			days = parsed
		}
	}
	until := time.Now().AddDate(0, 0, days)
	settings.PremiumUntil = until.Unix()
	if err := h.s.SetSettings(ctx, settings); err != nil {
		return errors.WithMessage(err, "cant save settings")
	}
	h.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Premium enabled until %s.", settings.Language), until.Format("2006-01-02")))
	return nil
}

func (h *Admin) configure(ctx context.Context, cmd string, chat *api.Chat, settings *db.Settings, rawArgs string) error {
	lang := settings.Language
	arg := strings.TrimSpace(rawArgs)
	lower := strings.ToLower(arg)

	switch cmd {
	case "antispam":
		switch lower {
		case "on":
			settings.AntiSpamEnabled = true
		case "off":
			settings.AntiSpamEnabled = false
		default:
			h.reply(ctx, chat.ID, i18n.Get("Usage: /antispam on|off", lang))
			return nil
		}
	case "welcome":
		switch {
		case lower == "on":
			settings.WelcomeEnabled = true
		case lower == "off":
			settings.WelcomeEnabled = false
		case arg != "":
			settings.WelcomeMessage = arg
			settings.WelcomeEnabled = true
		default:
			h.reply(ctx, chat.ID, i18n.Get("Usage: /welcome on|off or /welcome <template>", lang))
			return nil
		}
	case "verify":
		switch lower {
		case "on":
			settings.VerifyEnabled = true
		case "off":
			settings.VerifyEnabled = false
		case db.VerifyActionKick, db.VerifyActionMute:
			settings.VerifyAction = lower
		default:
			h.reply(ctx, chat.ID, i18n.Get("Usage: /verify on|off|kick|mute", lang))
			return nil
		}
	case "lang":
		if len(lower) != 2 {
			h.reply(ctx, chat.ID, i18n.Get("Usage: /lang <two-letter code>", lang))
			return nil
		}
		settings.Language = lower
	case "theme":
		available := theme.Available()
		var found bool
		for _, name := range available {
			if name == lower {
				found = true
				break
			}
		}
		if !found {
			h.reply(ctx, chat.ID, fmt.Sprintf(i18n.Get("Unknown theme %s. Available themes: %s", lang), arg, strings.Join(available, ", ")))
			return nil
		}
		settings.Theme = lower
	}
	if err := h.s.SetSettings(ctx, settings); err != nil {
		return errors.WithMessage(err, "cant save settings")
	}
	h.reply(ctx, chat.ID, i18n.Get("Done.", settings.Language))
	return nil
}

func (h *Admin) isPrivileged(ctx context.Context, chatID, userID int64) bool {
	if h.cfg.IsOwner(userID) {
		return true
	}
	member, err := h.s.GetGateway().MemberStatus(ctx, chatID, userID)
	if err != nil {
		h.getLogEntry().WithField("error", err.Error()).Warn("cant check member status")
		return false
	}
	return member.IsCreator() || (member.IsAdministrator() && member.CanRestrictMembers)
}

func (h *Admin) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.s.GetGateway().SendText(ctx, chatID, text); err != nil {
		h.getLogEntry().WithField("error", err.Error()).Warn("cant send reply")
	}
}

func (h *Admin) getLogEntry() *log.Entry {
	return log.WithField("object", "Admin")
}
