package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"

	"github.com/iamwavecut/tool"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/infra"
	"github.com/xeylabs/xbot/resources"
)

type sqliteClient struct {
	db *sqlx.DB
}

func NewSQLiteClient(dbPath string) *sqliteClient {
	dbx, err := sqlx.Open("sqlite", filepath.Join(infra.GetWorkDir(), dbPath))
	if err != nil {
		log.WithError(err).Fatalln("cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		log.WithError(err).Fatalln("migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) GetSettings(ctx context.Context, chatID int64) (*db.Settings, error) {
	res := &db.Settings{}
	err := c.db.GetContext(ctx, res, `
		SELECT id, language, theme, premium_until,
		       antispam_enabled, flood_count, flood_window_sec, link_allowlist,
		       welcome_enabled, welcome_message, verify_enabled, verify_action,
		       llm_check_enabled, log_channel_id
		FROM chats WHERE id=?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *sqliteClient) SetSettings(ctx context.Context, settings *db.Settings) error {
	query := `
		INSERT INTO chats (
			id, language, theme, premium_until,
			antispam_enabled, flood_count, flood_window_sec, link_allowlist,
			welcome_enabled, welcome_message, verify_enabled, verify_action,
			llm_check_enabled, log_channel_id
		) VALUES (
			:id, :language, :theme, :premium_until,
			:antispam_enabled, :flood_count, :flood_window_sec, :link_allowlist,
			:welcome_enabled, :welcome_message, :verify_enabled, :verify_action,
			:llm_check_enabled, :log_channel_id
		)
		ON CONFLICT(id) DO UPDATE SET
			language=excluded.language,
			theme=excluded.theme,
			premium_until=excluded.premium_until,
			antispam_enabled=excluded.antispam_enabled,
			flood_count=excluded.flood_count,
			flood_window_sec=excluded.flood_window_sec,
			link_allowlist=excluded.link_allowlist,
			welcome_enabled=excluded.welcome_enabled,
			welcome_message=excluded.welcome_message,
			verify_enabled=excluded.verify_enabled,
			verify_action=excluded.verify_action,
			llm_check_enabled=excluded.llm_check_enabled,
			log_channel_id=excluded.log_channel_id;
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, settings))
}

func (c *sqliteClient) IsMember(ctx context.Context, chatID int64, userID int64) (bool, error) {
	var count int
	err := c.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM chat_members WHERE chat_id = ? AND user_id = ?", chatID, userID)
	return count > 0, err
}

func (c *sqliteClient) InsertMember(ctx context.Context, chatID int64, userID int64) error {
	_, err := c.db.ExecContext(ctx, "INSERT OR IGNORE INTO chat_members (chat_id, user_id) VALUES (?, ?)", chatID, userID)
	return err
}

func (c *sqliteClient) GetMembers(ctx context.Context, chatID int64) ([]int64, error) {
	var userIDs []int64
	err := c.db.SelectContext(ctx, &userIDs, "SELECT user_id FROM chat_members WHERE chat_id = ?", chatID)
	return userIDs, err
}
