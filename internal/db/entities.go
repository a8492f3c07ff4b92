package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Settings is the per-chat moderation configuration document. The
	// moderation core only reads it; mutation happens through the admin
	// command surface.
	Settings struct {
		ID              int64      `db:"id"`
		Language        string     `db:"language"`
		Theme           string     `db:"theme"`
		PremiumUntil    int64      `db:"premium_until"`
		AntiSpamEnabled bool       `db:"antispam_enabled"`
		FloodCount      int        `db:"flood_count"`
		FloodWindowSec  int        `db:"flood_window_sec"`
		LinkAllowList   StringList `db:"link_allowlist"`
		WelcomeEnabled  bool       `db:"welcome_enabled"`
		WelcomeMessage  string     `db:"welcome_message"`
		VerifyEnabled   bool       `db:"verify_enabled"`
		VerifyAction    string     `db:"verify_action"`
		LLMCheckEnabled bool       `db:"llm_check_enabled"`
		LogChannelID    int64      `db:"log_channel_id"`
	}

	// StringList stores a JSON-encoded list in a single text column.
	StringList []string
)

// Fallback actions for a timed-out verification session.
const (
	VerifyActionMute = "mute"
	VerifyActionKick = "kick"
)

func (s StringList) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringList) Scan(v interface{}) error {
	if v == nil {
		*s = nil
		return nil
	}
	switch data := v.(type) {
	case string:
		return json.Unmarshal([]byte(data), s)
	case []byte:
		return json.Unmarshal(data, s)
	default:
		return fmt.Errorf("cannot scan type %T into StringList", v)
	}
}

// PremiumActive reports whether the chat's premium window covers now.
func (s *Settings) PremiumActive(now time.Time) bool {
	if s == nil {
		return false
	}
	return s.PremiumUntil > now.Unix()
}

// FloodWindow returns the flood detection window as a duration.
func (s *Settings) FloodWindow() time.Duration {
	return time.Duration(s.FloodWindowSec) * time.Second
}

// DefaultSettings mirrors the out-of-the-box chat configuration: everything
// opt-in is off, thresholds at their documented defaults.
func DefaultSettings(chatID int64) *Settings {
	return &Settings{
		ID:             chatID,
		Language:       "id",
		Theme:          "classic",
		FloodCount:     10,
		FloodWindowSec: 5,
		LinkAllowList:  StringList{},
		WelcomeMessage: "Welcome {first_name} to {group_name}!",
		VerifyAction:   VerifyActionMute,
	}
}
