package detector

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/xeylabs/xbot/internal/config"
	"github.com/xeylabs/xbot/internal/db"
	"github.com/xeylabs/xbot/internal/observability"
)

type VerdictKind string

const (
	VerdictFlood  VerdictKind = "flood"
	VerdictRepeat VerdictKind = "repeat"
	VerdictCaps   VerdictKind = "caps"
	VerdictLink   VerdictKind = "link"

	// VerdictLLM is issued by the model-backed first-message check, never
	// by Evaluate.
	VerdictLLM VerdictKind = "llm"
)

// Verdict is a single detected violation. At most one verdict is produced per
// message; the check order is fixed and the first match wins.
type Verdict struct {
	Kind   VerdictKind
	Reason string
}

// Key identifies one activity record.
type Key struct {
	ChatID int64
	UserID int64
}

type record struct {
	timestamps  []time.Time
	fingerprint uint64
	repeats     int
	warnings    int
}

const (
	repeatThreshold = 3
	capsMinLength   = 20
	capsRatio       = 0.8
)

var linkRE = regexp.MustCompile(`https?://\S+`)

// Detector keeps rolling per-(chat,user) activity records and evaluates
// messages against the chat's thresholds. Records are memory-only and decay
// through the background sweep, so a restart starts from a clean slate.
type Detector struct {
	mu      sync.Mutex
	records map[Key]*record

	retention  time.Duration
	sweepEvery time.Duration

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg config.SpamControl) *Detector {
	return &Detector{
		records:    map[Key]*record{},
		retention:  cfg.RetentionWindow,
		sweepEvery: cfg.SweepInterval,
	}
}

func (d *Detector) Start(ctx context.Context) error {
	d.runMutex.Lock()
	defer d.runMutex.Unlock()
	if d.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.runCancel = cancel
	d.started = true

	d.workerWG.Add(1)
	go func() {
		defer d.workerWG.Done()
		ticker := time.NewTicker(d.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				removed := d.Sweep(time.Now())
				if removed > 0 {
					log.WithFields(log.Fields{"object": "Detector", "removed": removed}).Debug("swept idle activity records")
				}
			}
		}
	}()
	return nil
}

func (d *Detector) Stop(ctx context.Context) error {
	d.runMutex.Lock()
	if !d.started {
		d.runMutex.Unlock()
		return nil
	}
	d.started = false
	cancel := d.runCancel
	d.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.workerWG.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Record notes one observed message: appends its timestamp and tracks
// verbatim repetition through a cheap text fingerprint.
func (d *Detector) Record(chatID, userID int64, text string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := Key{ChatID: chatID, UserID: userID}
	rec, ok := d.records[key]
	if !ok {
		rec = &record{}
		d.records[key] = rec
	}
	rec.timestamps = append(rec.timestamps, now)

	fp := fingerprint(text)
	if fp == rec.fingerprint && rec.repeats > 0 {
		rec.repeats++
	} else {
		rec.repeats = 1
	}
	rec.fingerprint = fp
}

// Evaluate runs the configured checks in order and returns the first matching
// verdict, or nil. Flood is always active; repetition, caps and link checks
// require the chat's premium window to cover now.
func (d *Detector) Evaluate(ctx context.Context, chatID, userID int64, text string, settings *db.Settings, now time.Time) *Verdict {
	_, span := otel.Tracer("detector").Start(ctx, "evaluate")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[Key{ChatID: chatID, UserID: userID}]
	if !ok {
		return nil
	}

	if verdict := d.checkFlood(rec, settings, now); verdict != nil {
		d.reportVerdict(verdict, chatID, userID)
		return verdict
	}
	if !settings.PremiumActive(now) {
		return nil
	}
	for _, check := range []func(*record, *db.Settings, string) *Verdict{
		d.checkRepeat,
		d.checkCaps,
		d.checkLink,
	} {
		if verdict := check(rec, settings, text); verdict != nil {
			d.reportVerdict(verdict, chatID, userID)
			return verdict
		}
	}
	return nil
}

func (d *Detector) reportVerdict(verdict *Verdict, chatID, userID int64) {
	observability.RecordVerdict(string(verdict.Kind))
	observability.Logger.Warn("spam verdict",
		zap.String("kind", string(verdict.Kind)),
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
	)
}

func (d *Detector) checkFlood(rec *record, settings *db.Settings, now time.Time) *Verdict {
	cutoff := now.Add(-settings.FloodWindow())
	kept := rec.timestamps[:0]
	for _, ts := range rec.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.timestamps = kept

	if len(rec.timestamps) < settings.FloodCount {
		return nil
	}
	// Clearing the window keeps the very next message from re-triggering.
	rec.timestamps = rec.timestamps[:0]
	return &Verdict{
		Kind:   VerdictFlood,
		Reason: fmt.Sprintf("%d messages within %s", settings.FloodCount, settings.FloodWindow()),
	}
}

func (d *Detector) checkRepeat(rec *record, _ *db.Settings, _ string) *Verdict {
	if rec.repeats < repeatThreshold {
		return nil
	}
	rec.repeats = 0
	return &Verdict{
		Kind:   VerdictRepeat,
		Reason: fmt.Sprintf("same message sent %d times in a row", repeatThreshold),
	}
}

func (d *Detector) checkCaps(_ *record, _ *db.Settings, text string) *Verdict {
	total := utf8.RuneCountInString(text)
	if total <= capsMinLength {
		return nil
	}
	var upper int
	for _, r := range text {
		if r >= 'A' && r <= 'Z' {
			upper++
		}
	}
	if float64(upper)/float64(total) <= capsRatio {
		return nil
	}
	return &Verdict{Kind: VerdictCaps, Reason: "message is mostly capital letters"}
}

func (d *Detector) checkLink(_ *record, settings *db.Settings, text string) *Verdict {
	if !linkRE.MatchString(text) {
		return nil
	}
	for _, allowed := range settings.LinkAllowList {
		if allowed != "" && strings.Contains(text, allowed) {
			return nil
		}
	}
	return &Verdict{Kind: VerdictLink, Reason: "link outside the allow-list"}
}

// AddWarning bumps the cumulative warning counter and returns the new total.
// Without a prior activity record there is nothing to escalate; zero is
// returned and no record is created.
func (d *Detector) AddWarning(chatID, userID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[Key{ChatID: chatID, UserID: userID}]
	if !ok {
		return 0
	}
	rec.warnings++
	return rec.warnings
}

func (d *Detector) Warnings(chatID, userID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[Key{ChatID: chatID, UserID: userID}]
	if !ok {
		return 0
	}
	return rec.warnings
}

// Sweep drops timestamps older than the retention window and deletes records
// left with none. Deleting a record also forgets its warnings, which is the
// only way the counter ever resets.
func (d *Detector) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.retention)
	var removed int
	for key, rec := range d.records {
		kept := rec.timestamps[:0]
		for _, ts := range rec.timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		rec.timestamps = kept
		if len(rec.timestamps) == 0 {
			delete(d.records, key)
			removed++
		}
	}
	return removed
}

func fingerprint(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(text)))
	return h.Sum64()
}
