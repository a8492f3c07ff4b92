package verify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/bot"
	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/gateway"
	"github.com/xeylabs/xbot/internal/i18n"
	"github.com/xeylabs/xbot/internal/observability"
	"github.com/xeylabs/xbot/internal/theme"
)

// CallbackPrefix tags confirmation button payloads handled by the verifier.
const CallbackPrefix = "verify"

// Notifier receives structured incident events, best-effort.
type Notifier interface {
	Record(ctx context.Context, chatID int64, kind string, payload map[string]any)
}

type sessionKey struct {
	ChatID int64
	UserID int64
}

type session struct {
	token           string
	timer           *time.Timer
	promptMessageID int
	fallback        string
	language        string
	theme           string
	userName        string
}

// Verifier gates new members behind a timed confirmation button. One live
// session exists per (chat, member); a re-join supersedes the previous
// session and invalidates its timer.
type Verifier struct {
	gw       *gateway.Gateway
	notifier Notifier
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[sessionKey]*session

	runMutex sync.Mutex
	started  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	timerWG  sync.WaitGroup
}

func New(gw *gateway.Gateway, notifier Notifier, cfg config.Verify) *Verifier {
	return &Verifier{
		gw:       gw,
		notifier: notifier,
		timeout:  cfg.Timeout,
		sessions: map[sessionKey]*session{},
	}
}

func (v *Verifier) Start(ctx context.Context) error {
	v.runMutex.Lock()
	defer v.runMutex.Unlock()
	if v.started {
		return nil
	}
	v.runCtx, v.cancel = context.WithCancel(context.WithoutCancel(ctx))
	v.started = true
	return nil
}

func (v *Verifier) Stop(ctx context.Context) error {
	v.runMutex.Lock()
	if !v.started {
		v.runMutex.Unlock()
		return nil
	}
	v.started = false
	cancel := v.cancel
	v.runMutex.Unlock()

	v.mu.Lock()
	for key, s := range v.sessions {
		if s.timer.Stop() {
			v.timerWG.Done()
		}
		delete(v.sessions, key)
	}
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.timerWG.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// HandleJoin welcomes a new member. With verification enabled and the chat's
// premium window active, the member is restricted until they press the
// confirmation button or the deadline passes; otherwise only the welcome
// message is sent.
func (v *Verifier) HandleJoin(ctx context.Context, chat *api.Chat, user *api.User, settings *db.Settings) error {
	entry := log.WithFields(log.Fields{"object": "Verifier", "chat": chat.ID, "user": user.ID})
	welcome := renderWelcome(settings.WelcomeMessage, user, chat.Title)

	if !settings.VerifyEnabled || !settings.PremiumActive(time.Now()) {
		if !settings.WelcomeEnabled {
			return nil
		}
		_, err := v.gw.SendText(ctx, chat.ID, welcome)
		return err
	}

	if err := v.gw.RestrictMember(ctx, chat.ID, user.ID, time.Time{}); err != nil {
		entry.WithField("error", err.Error()).Warn("cant restrict joining member")
		if settings.WelcomeEnabled {
			_, _ = v.gw.SendText(ctx, chat.ID, welcome)
		}
		return nil
	}

	token := uuid.New()
	prompt := welcome + "\n\n" + fmt.Sprintf(
		i18n.Get("Press the button below within %d seconds to prove you are human.", settings.Language),
		int(v.timeout.Seconds()),
	)
	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData(
				theme.Icon(settings.Theme, "verify")+" "+i18n.Get("I'm human", settings.Language),
				strings.Join([]string{CallbackPrefix, strconv.FormatInt(user.ID, 10), token}, ";"),
			),
		),
	)
	msg := api.NewMessage(chat.ID, prompt)
	msg.ReplyMarkup = markup
	sent, err := v.gw.Send(ctx, msg)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant send confirmation prompt")
	}
	var promptID int
	if sent != nil {
		promptID = sent.MessageID
	}

	key := sessionKey{ChatID: chat.ID, UserID: user.ID}
	s := &session{
		token:           token,
		promptMessageID: promptID,
		fallback:        settings.VerifyAction,
		language:        settings.Language,
		theme:           settings.Theme,
		userName:        bot.GetUN(user),
	}

	v.mu.Lock()
	if prev, ok := v.sessions[key]; ok {
		if prev.timer.Stop() {
			v.timerWG.Done()
		}
	}
	v.timerWG.Add(1)
	s.timer = time.AfterFunc(v.timeout, func() {
		defer v.timerWG.Done()
		v.resolveTimeout(key, s)
	})
	v.sessions[key] = s
	v.mu.Unlock()

	entry.WithField("deadline", v.timeout.String()).Debug("verification session armed")
	return nil
}

// HandleCallback resolves a press of the confirmation button. Only the
// pending member may confirm; anyone else gets a transient notice.
func (v *Verifier) HandleCallback(ctx context.Context, chat *api.Chat, from *api.User, cq *api.CallbackQuery) error {
	entry := log.WithFields(log.Fields{"object": "Verifier", "chat": chat.ID, "user": from.ID})

	parts := strings.Split(cq.Data, ";")
	if len(parts) != 3 || parts[0] != CallbackPrefix {
		return nil
	}
	targetID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	token := parts[2]

	key := sessionKey{ChatID: chat.ID, UserID: targetID}
	v.mu.Lock()
	s, ok := v.sessions[key]
	v.mu.Unlock()
	if !ok || s.token != token {
		entry.Debug("callback for unknown or superseded session")
		return v.gw.AnswerCallback(ctx, cq.ID, "")
	}

	if from.ID != targetID {
		return v.gw.AnswerCallbackAlert(ctx, cq.ID, i18n.Get("This button is not for you.", s.language))
	}

	v.mu.Lock()
	if s.timer.Stop() {
		v.timerWG.Done()
	}
	delete(v.sessions, key)
	v.mu.Unlock()

	if err := v.gw.UnrestrictMember(ctx, chat.ID, targetID); err != nil {
		entry.WithField("error", err.Error()).Warn("cant lift restriction")
	}
	if s.promptMessageID != 0 {
		text := fmt.Sprintf(i18n.Get("%s has been verified. Welcome!", s.language), s.userName)
		if err := v.gw.EditText(ctx, chat.ID, s.promptMessageID, theme.Icon(s.theme, "verify")+" "+text); err != nil {
			entry.WithField("error", err.Error()).Warn("cant edit prompt")
		}
	}
	observability.RecordVerificationOutcome("verified")
	return v.gw.AnswerCallback(ctx, cq.ID, i18n.Get("Verified!", s.language))
}

// resolveTimeout runs detached from the join that armed it. It re-checks the
// member's live restriction before enforcing, so an admin lifting the
// restriction in the meantime wins over the fallback action.
func (v *Verifier) resolveTimeout(key sessionKey, s *session) {
	entry := log.WithFields(log.Fields{"object": "Verifier", "chat": key.ChatID, "user": key.UserID})

	v.mu.Lock()
	current, ok := v.sessions[key]
	if !ok || current.token != s.token {
		v.mu.Unlock()
		return
	}
	delete(v.sessions, key)
	v.mu.Unlock()

	ctx, cancelCtx := context.WithTimeout(v.runCtx, 2*time.Minute)
	defer cancelCtx()

	member, err := v.gw.MemberStatus(ctx, key.ChatID, key.UserID)
	if err != nil {
		entry.WithField("error", err.Error()).Warn("cant fetch member status on deadline")
	}
	if member != nil && !stillRestricted(member) {
		entry.Debug("member already unrestricted, discarding session")
		observability.RecordVerificationOutcome("resolved_externally")
		return
	}

	var text string
	switch s.fallback {
	case db.VerifyActionKick:
		if err := v.gw.KickMember(ctx, key.ChatID, key.UserID); err != nil {
			entry.WithField("error", err.Error()).Warn("cant kick unverified member")
		}
		text = fmt.Sprintf(i18n.Get("Sorry %s, verification time expired. You have been removed from the group.", s.language), s.userName)
		observability.RecordVerificationOutcome("timed_out_kick")
	default:
		text = fmt.Sprintf(i18n.Get("Sorry %s, verification time expired. You stay muted until an admin unmutes you.", s.language), s.userName)
		observability.RecordVerificationOutcome("timed_out_mute")
	}
	if s.promptMessageID != 0 {
		if err := v.gw.EditText(ctx, key.ChatID, s.promptMessageID, theme.Icon(s.theme, "verify_fail")+" "+text); err != nil {
			entry.WithField("error", err.Error()).Warn("cant edit prompt")
		}
	}
	v.notifier.Record(ctx, key.ChatID, "verify_timeout", map[string]any{
		"user_id":  key.UserID,
		"user":     s.userName,
		"fallback": s.fallback,
	})
}

// PendingCount reports live sessions, for diagnostics.
func (v *Verifier) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sessions)
}

func stillRestricted(member *api.ChatMember) bool {
	if member.WasKicked() || member.HasLeft() {
		return false
	}
	return member.Status == "restricted" && !member.CanSendMessages
}

func renderWelcome(template string, user *api.User, groupName string) string {
	mention := "@" + user.UserName
	if user.UserName == "" {
		mention = bot.GetFullName(user)
	}
	return strings.NewReplacer(
		"{first_name}", user.FirstName,
		"{last_name}", user.LastName,
		"{username}", bot.GetUN(user),
		"{mention}", mention,
		"{group_name}", groupName,
	).Replace(template)
}
