package bot

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/gateway"
)

type service struct {
	gw  *gateway.Gateway
	db  db.Client
	cfg *config.Config
}

func NewService(gw *gateway.Gateway, client db.Client, cfg *config.Config) *service {
	return &service{
		gw:  gw,
		db:  client,
		cfg: cfg,
	}
}

func (s *service) GetGateway() *gateway.Gateway {
	return s.gw
}

func (s *service) GetDB() db.Client {
	return s.db
}

func (s *service) GetSettings(ctx context.Context, chatID int64) *db.Settings {
	settings, err := s.db.GetSettings(ctx, chatID)
	if err != nil {
		if err != db.ErrNotFound {
			log.WithFields(log.Fields{"object": "service", "chat": chatID, "error": err.Error()}).Warn("cant load settings, using defaults")
		}
		return db.DefaultSettings(chatID)
	}
	return settings
}

func (s *service) SetSettings(ctx context.Context, settings *db.Settings) error {
	return s.db.SetSettings(ctx, settings)
}

func (s *service) GetLanguage(ctx context.Context, chatID int64) string {
	settings := s.GetSettings(ctx, chatID)
	if settings.Language != "" {
		return settings.Language
	}
	return s.cfg.DefaultLanguage
}

func (s *service) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	return s.db.IsMember(ctx, chatID, userID)
}

func (s *service) InsertMember(ctx context.Context, chatID, userID int64) error {
	return s.db.InsertMember(ctx, chatID, userID)
}
