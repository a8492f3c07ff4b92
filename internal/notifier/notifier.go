package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/gateway"
	"github.com/xeylabs/xbot/internal/theme"
)

const logFileName = "incidents.log"

// Event is one appended incident line.
type Event struct {
	Time    time.Time      `json:"time"`
	ChatID  int64          `json:"chat_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Notifier appends structured incidents to a JSONL file and, when the chat
// configured a log channel, forwards a one-line summary there. Every failure
// is swallowed and logged: recording an incident must never fail the
// moderation action that produced it.
type Notifier struct {
	mu   sync.Mutex
	path string
	gw   *gateway.Gateway
	db   db.Client
}

func New(dir string, gw *gateway.Gateway, client db.Client) *Notifier {
	return &Notifier{
		path: filepath.Join(dir, logFileName),
		gw:   gw,
		db:   client,
	}
}

func (n *Notifier) Record(ctx context.Context, chatID int64, kind string, payload map[string]any) {
	entry := log.WithFields(log.Fields{"object": "Notifier", "chat": chatID, "kind": kind})

	event := Event{Time: time.Now().UTC(), ChatID: chatID, Kind: kind, Payload: payload}
	if err := n.append(event); err != nil {
		entry.WithField("error", err.Error()).Error("cant append incident")
	}
	n.forward(ctx, event, entry)
}

func (n *Notifier) append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	f, err := os.OpenFile(n.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func (n *Notifier) forward(ctx context.Context, event Event, entry *log.Entry) {
	if n.db == nil || n.gw == nil {
		return
	}
	settings, err := n.db.GetSettings(ctx, event.ChatID)
	if err != nil {
		if err != db.ErrNotFound {
			entry.WithField("error", err.Error()).Warn("cant load settings for forwarding")
		}
		return
	}
	if settings.LogChannelID == 0 {
		return
	}
	text := theme.Icon(settings.Theme, "log") + " " + summarize(event)
	if _, err := n.gw.SendText(ctx, settings.LogChannelID, text); err != nil {
		entry.WithField("error", err.Error()).Warn("cant forward incident to log channel")
	}
}

func summarize(event Event) string {
	parts := []string{fmt.Sprintf("[%s] chat %d", event.Kind, event.ChatID)}
	keys := make([]string, 0, len(event.Payload))
	for k := range event.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, event.Payload[k]))
	}
	return strings.Join(parts, " ")
}
