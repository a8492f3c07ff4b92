package db

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Client defines the settings and membership store.
type Client interface {
	Close() error

	GetSettings(ctx context.Context, chatID int64) (*Settings, error)
	SetSettings(ctx context.Context, settings *Settings) error

	IsMember(ctx context.Context, chatID int64, userID int64) (bool, error)
	InsertMember(ctx context.Context, chatID int64, userID int64) error
	GetMembers(ctx context.Context, chatID int64) ([]int64, error)
}
