package notifier

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ChatStats is an offline aggregation over the incident log.
type ChatStats struct {
	Total  int
	ByRule map[string]int
}

// Stats replays the incident log and counts the chat's spam incidents newer
// than since, grouped by rule.
func (n *Notifier) Stats(chatID int64, since time.Time) (*ChatStats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	stats := &ChatStats{ByRule: map[string]int{}}
	f, err := os.Open(n.path)
	if os.IsNotExist(err) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			// A torn line from a crash mid-append is not worth failing over.
			continue
		}
		if event.ChatID != chatID || event.Kind != "spam" || event.Time.Before(since) {
			continue
		}
		stats.Total++
		if rule, ok := event.Payload["rule"].(string); ok {
			stats.ByRule[rule]++
		}
	}
	return stats, scanner.Err()
}

// FormatStats renders the aggregation for the /stats command.
func FormatStats(stats *ChatStats, window time.Duration) string {
	text := fmt.Sprintf("Spam incidents in the last %s: %d", window, stats.Total)
	for _, rule := range []string{"flood", "repeat", "caps", "link"} {
		if count := stats.ByRule[rule]; count > 0 {
			text += fmt.Sprintf("\n  %s: %d", rule, count)
		}
	}
	return text
}
