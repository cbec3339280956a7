// Package mailsync pulls unread mailbox messages past a per-user watermark
// and lands them in the store. The watermark only moves forward, and only
// after the full batch is persisted, so a crashed run re-reads rather than
// drops messages.
package mailsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/internal/store"
	"github.com/sells-group/mailcrm/pkg/gmail"
)

// TokenSource hands out mailbox access tokens per user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
	Invalidate(userID string)
}

// Synchronizer drives one poll cycle per user against the mailbox provider.
// It never retries provider calls within a run; a transient failure is
// surfaced and the next scheduled cycle re-reads the same window.
type Synchronizer struct {
	store       store.Store
	mail        gmail.Client
	tokens      TokenSource
	maxMessages int
	now         func() time.Time
}

// Option configures the Synchronizer.
type Option func(*Synchronizer)

// WithMaxMessages caps how many messages one poll cycle admits.
func WithMaxMessages(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// New creates a Synchronizer.
func New(st store.Store, mail gmail.Client, tokens TokenSource, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:       st,
		mail:        mail,
		tokens:      tokens,
		maxMessages: 25,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser runs one poll cycle for the user. The first call establishes and
// arms the baseline in one step; subsequent calls fetch messages received
// strictly after the watermark. A connection left half-initialized (baseline
// set but not armed) is armed without importing anything.
func (s *Synchronizer) SyncUser(ctx context.Context, userID string) (*model.SyncResult, error) {
	now := s.now().UTC()

	conn, err := s.store.GetConnection(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "mailsync: load connection %s", userID)
	}

	if conn == nil {
		// Establishes and arms in one write; nothing before now is imported.
		if err := s.store.EstablishBaseline(ctx, userID, now); err != nil {
			return nil, eris.Wrapf(err, "mailsync: establish baseline %s", userID)
		}
		zap.L().Info("established mailbox baseline",
			zap.String("user_id", userID),
			zap.Time("baseline_at", now),
		)
		return &model.SyncResult{NewWatermark: now}, nil
	}

	if !conn.BaselineReady {
		// Catch-up guard for a connection left half-initialized.
		if err := s.store.MarkBaselineReady(ctx, userID); err != nil {
			return nil, eris.Wrapf(err, "mailsync: mark baseline ready %s", userID)
		}
		zap.L().Info("mailbox baseline armed", zap.String("user_id", userID))
		return &model.SyncResult{NewWatermark: conn.BaselineAt}, nil
	}

	cutoff := conn.BaselineAt
	if conn.LastPollAt.After(cutoff) {
		cutoff = conn.LastPollAt
	}
	if cutoff.After(now) {
		cutoff = now
	}

	token, err := s.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "mailsync: access token for %s", userID)
	}

	refs, err := s.mail.ListUnread(ctx, token, cutoff, s.maxMessages)
	if err != nil {
		if perr := s.store.IncrementPollErrors(ctx, userID); perr != nil {
			zap.L().Warn("failed to record poll error", zap.String("user_id", userID), zap.Error(perr))
		}
		return nil, s.providerError(userID, "list unread", err)
	}

	res := &model.SyncResult{NewWatermark: now}
	batch := make([]model.NormalizedMessage, 0, len(refs))
	for _, ref := range refs {
		raw, err := s.mail.GetMessage(ctx, token, ref.ID)
		if err != nil {
			// One broken detail fetch must not sink the rest of the window.
			res.Errors++
			res.ErrorDetails = append(res.ErrorDetails, fmt.Sprintf("fetch %s: %v", ref.ID, err))
			zap.L().Warn("message fetch failed",
				zap.String("user_id", userID),
				zap.String("message_id", ref.ID),
				zap.Error(err),
			)
			continue
		}

		received, err := raw.InternalTime()
		if err != nil {
			res.Errors++
			res.ErrorDetails = append(res.ErrorDetails, fmt.Sprintf("timestamp %s: %v", ref.ID, err))
			continue
		}

		// The provider query filters at whole-second granularity; this
		// millisecond comparison is the authoritative admission check.
		if !received.After(cutoff) {
			res.Skipped++
			continue
		}

		exists, err := s.store.MessageExists(ctx, userID, raw.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "mailsync: dedup check %s", raw.ID)
		}
		if exists {
			res.Skipped++
			continue
		}

		batch = append(batch, normalize(raw, received))
	}

	if err := s.store.InsertMessages(ctx, userID, batch); err != nil {
		if perr := s.store.IncrementPollErrors(ctx, userID); perr != nil {
			zap.L().Warn("failed to record poll error", zap.String("user_id", userID), zap.Error(perr))
		}
		return nil, eris.Wrapf(err, "mailsync: insert batch for %s", userID)
	}
	res.Inserted = len(batch)
	res.Messages = batch

	if err := s.store.AdvanceWatermark(ctx, userID, now); err != nil {
		// The batch is already durable; the next run re-reads the window and
		// the dedup check absorbs the overlap.
		zap.L().Warn("watermark advance failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	zap.L().Info("mailbox sync complete",
		zap.String("user_id", userID),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Time("watermark", now),
	)
	return res, nil
}

// providerError classifies a mailbox provider failure. Auth rejections force
// a token refresh and surface as configuration errors; rate-limit and server
// statuses are marked transient so the caller treats the next scheduled run
// as the retry.
func (s *Synchronizer) providerError(userID, action string, err error) error {
	code := gmail.StatusCode(err)
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		s.tokens.Invalidate(userID)
		return resilience.NewConfigError(
			eris.Wrapf(err, "mailsync: %s for %s", action, userID),
			"re-authorize the mailbox connection",
		)
	}
	wrapped := eris.Wrapf(err, "mailsync: %s for %s", action, userID)
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(wrapped, code)
	}
	return wrapped
}

func normalize(raw *gmail.RawMessage, received time.Time) model.NormalizedMessage {
	subject := raw.Header("Subject")
	if subject == "" {
		subject = "(no subject)"
	}

	threadOrID := raw.ThreadID
	if threadOrID == "" {
		threadOrID = raw.ID
	}

	return model.NormalizedMessage{
		ID:             raw.ID,
		ThreadID:       raw.ThreadID,
		Subject:        subject,
		Sender:         raw.Header("From"),
		Snippet:        raw.Snippet,
		ReceivedAt:     received,
		HasAttachments: raw.HasAttachment(),
		HasImages:      raw.HasImage(),
		HasLinks:       strings.Contains(raw.Snippet, "http://") || strings.Contains(raw.Snippet, "https://"),
		Permalink:      "https://mail.google.com/mail/u/0/#inbox/" + threadOrID,
	}
}
