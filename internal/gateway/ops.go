package gateway

import (
	"context"
	"encoding/json"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

// Send dispatches any message-producing payload and decodes the sent message.
func (g *Gateway) Send(ctx context.Context, payload api.Chattable) (*api.Message, error) {
	resp, err := g.request(ctx, "send", false, payload)
	if err != nil {
		return nil, err
	}
	return decodeMessage(resp)
}

func (g *Gateway) SendText(ctx context.Context, chatID int64, text string) (*api.Message, error) {
	return g.Send(ctx, api.NewMessage(chatID, text))
}

func (g *Gateway) SendHTML(ctx context.Context, chatID int64, text string) (*api.Message, error) {
	msg := api.NewMessage(chatID, text)
	msg.ParseMode = api.ModeHTML
	return g.Send(ctx, msg)
}

// EditText tolerates "message is not modified" style outcomes: the edit is
// retried by upstream logic and the desired state already holds.
func (g *Gateway) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := api.NewEditMessageText(chatID, messageID, text)
	_, err := g.request(ctx, "editMessageText", true, edit)
	return err
}

func (g *Gateway) EditTextWithMarkup(ctx context.Context, chatID int64, messageID int, text string, markup *api.InlineKeyboardMarkup) error {
	edit := api.NewEditMessageText(chatID, messageID, text)
	edit.ReplyMarkup = markup
	_, err := g.request(ctx, "editMessageText", true, edit)
	return err
}

func (g *Gateway) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := g.request(ctx, "deleteMessage", true, api.NewDeleteMessage(chatID, messageID))
	return err
}

// RestrictMember strips the member's send permissions until the given time.
// A zero until time restricts indefinitely.
func (g *Gateway) RestrictMember(ctx context.Context, chatID int64, userID int64, until time.Time) error {
	var untilDate int64
	if !until.IsZero() {
		untilDate = until.Unix()
	}
	payload := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: &api.ChatPermissions{},
		UntilDate:   untilDate,

		UseIndependentChatPermissions: true,
	}
	_, err := g.request(ctx, "restrictChatMember", false, payload)
	return err
}

// UnrestrictMember lifts a restriction by granting the default member
// permissions back.
func (g *Gateway) UnrestrictMember(ctx context.Context, chatID int64, userID int64) error {
	payload := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		Permissions: &api.ChatPermissions{
			CanSendMessages:       true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}
	_, err := g.request(ctx, "restrictChatMember", false, payload)
	return err
}

// BanMember bans the member; a zero until time means the ban is permanent.
func (g *Gateway) BanMember(ctx context.Context, chatID int64, userID int64, until time.Time, revokeMessages bool) error {
	var untilDate int64
	if !until.IsZero() {
		untilDate = until.Unix()
	}
	payload := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		UntilDate:      untilDate,
		RevokeMessages: revokeMessages,
	}
	_, err := g.request(ctx, "banChatMember", false, payload)
	return err
}

func (g *Gateway) UnbanMember(ctx context.Context, chatID int64, userID int64) error {
	payload := api.UnbanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		OnlyIfBanned: true,
	}
	_, err := g.request(ctx, "unbanChatMember", false, payload)
	return err
}

// KickMember removes the member without a lasting ban: ban then unban, so a
// removed user can still re-join through an invite link later.
func (g *Gateway) KickMember(ctx context.Context, chatID int64, userID int64) error {
	if err := g.BanMember(ctx, chatID, userID, time.Now().Add(time.Minute), false); err != nil {
		return err
	}
	return g.UnbanMember(ctx, chatID, userID)
}

func (g *Gateway) PromoteMember(ctx context.Context, chatID int64, userID int64) error {
	payload := api.PromoteChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
		CanManageChat:       true,
		CanDeleteMessages:   true,
		CanRestrictMembers:  true,
		CanInviteUsers:      true,
		CanPinMessages:      true,
		CanManageVideoChats: true,
	}
	_, err := g.request(ctx, "promoteChatMember", false, payload)
	return err
}

func (g *Gateway) PinMessage(ctx context.Context, chatID int64, messageID int) error {
	payload := api.PinChatMessageConfig{
		BaseChatMessage: api.BaseChatMessage{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			MessageID:  messageID,
		},
		DisableNotification: true,
	}
	_, err := g.request(ctx, "pinChatMessage", false, payload)
	return err
}

// AnswerCallback acknowledges a callback query, tolerating expired queries.
func (g *Gateway) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	_, err := g.request(ctx, "answerCallbackQuery", true, api.NewCallback(callbackID, text))
	return err
}

func (g *Gateway) AnswerCallbackAlert(ctx context.Context, callbackID string, text string) error {
	_, err := g.request(ctx, "answerCallbackQuery", true, api.NewCallbackWithAlert(callbackID, text))
	return err
}

func (g *Gateway) MemberStatus(ctx context.Context, chatID int64, userID int64) (*api.ChatMember, error) {
	payload := api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	}
	resp, err := g.request(ctx, "getChatMember", false, payload)
	if err != nil {
		return nil, err
	}
	member := &api.ChatMember{}
	if err := json.Unmarshal(resp.Result, member); err != nil {
		return nil, err
	}
	return member, nil
}

// Self resolves the bot's own identity through the same serialized pipeline.
func (g *Gateway) Self(ctx context.Context) (api.User, error) {
	var self api.User
	_, err := g.submit(ctx, "getMe", false, func(c Caller) (*api.APIResponse, error) {
		user, err := c.GetMe()
		if err != nil {
			return nil, err
		}
		self = user
		return &api.APIResponse{Ok: true}, nil
	})
	return self, err
}

func decodeMessage(resp *api.APIResponse) (*api.Message, error) {
	if resp == nil || len(resp.Result) == 0 {
		return nil, nil
	}
	msg := &api.Message{}
	if err := json.Unmarshal(resp.Result, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
