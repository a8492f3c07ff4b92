package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/gateway"
)

// ServiceGateway exposes the delivery gateway.
type ServiceGateway interface {
	GetGateway() *gateway.Gateway
}

// ServiceDB exposes the settings and membership store.
type ServiceDB interface {
	GetDB() db.Client
}

// Service is the shared dependency bundle handed to every update handler.
type Service interface {
	ServiceGateway
	ServiceDB
	// GetSettings never fails: a missing or unreadable chat document falls
	// back to defaults, which keep every opt-in feature disabled.
	GetSettings(ctx context.Context, chatID int64) *db.Settings
	SetSettings(ctx context.Context, settings *db.Settings) error
	GetLanguage(ctx context.Context, chatID int64) string
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	InsertMember(ctx context.Context, chatID, userID int64) error
}

// Handler processes one update; proceed=false stops the chain.
type Handler interface {
	Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (proceed bool, err error)
}
