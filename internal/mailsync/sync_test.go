package mailsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/pkg/gmail"
)

var syncNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestSync(st *mockStore, mail *mockMail, tok *mockTokens) *Synchronizer {
	if tok == nil {
		tok = &mockTokens{token: "tok-1"}
	}
	return New(st, mail, tok, WithClock(func() time.Time { return syncNow }))
}

// readyConn seeds a connection whose baseline is armed and whose watermark
// sits one hour before syncNow.
func readyConn(st *mockStore, userID string) time.Time {
	cutoff := syncNow.Add(-time.Hour)
	st.conns[userID] = &model.Connection{
		UserID:        userID,
		BaselineAt:    cutoff.Add(-24 * time.Hour),
		BaselineReady: true,
		LastPollAt:    cutoff,
	}
	return cutoff
}

func TestSyncUser_FirstRunEstablishesAndArmsBaseline(t *testing.T) {
	st := newMockStore()
	mail := &mockMail{}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []time.Time{syncNow}, st.baselineCalls)
	assert.Equal(t, syncNow, res.NewWatermark)
	assert.Zero(t, res.Inserted)
	assert.Zero(t, mail.listCalls, "the establishing call imports nothing")

	// A single call arms the connection and seeds the watermark.
	conn := st.conns["u1"]
	assert.True(t, conn.BaselineReady)
	assert.Equal(t, syncNow, conn.LastPollAt, "watermark never precedes the baseline")

	// The very next cycle polls the provider past the baseline.
	_, err = s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, mail.listCalls)
	assert.Equal(t, []time.Time{syncNow}, mail.listAfter)
}

func TestSyncUser_HalfInitializedConnectionArmed(t *testing.T) {
	st := newMockStore()
	baseline := syncNow.Add(-time.Minute)
	st.conns["u1"] = &model.Connection{UserID: "u1", BaselineAt: baseline}
	mail := &mockMail{}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.readyCalls)
	assert.Equal(t, baseline, res.NewWatermark)
	assert.Zero(t, mail.listCalls)
}

func TestSyncUser_FetchesPastWatermark(t *testing.T) {
	st := newMockStore()
	cutoff := readyConn(st, "u1")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m1"}, {ID: "m2"}}, nil
		},
		getFn: func(_ context.Context, _, id string) (*gmail.RawMessage, error) {
			return rawMessage(id, cutoff.Add(time.Minute)), nil
		},
	}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, []time.Time{cutoff}, mail.listAfter)
	assert.Equal(t, []time.Time{syncNow}, st.advanceCalls)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "subject m1", res.Messages[0].Subject)
	assert.Equal(t, "Jane Doe <jane@acme.com>", res.Messages[0].Sender)
	assert.Equal(t, "https://mail.google.com/mail/u/0/#inbox/t-m1", res.Messages[0].Permalink)
}

func TestSyncUser_CutoffBoundary(t *testing.T) {
	st := newMockStore()
	cutoff := readyConn(st, "u1")
	// m-at lands exactly on the cutoff millisecond, m-after one ms past it.
	times := map[string]time.Time{
		"m-at":    cutoff,
		"m-after": cutoff.Add(time.Millisecond),
	}
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m-at"}, {ID: "m-after"}}, nil
		},
		getFn: func(_ context.Context, _, id string) (*gmail.RawMessage, error) {
			return rawMessage(id, times[id]), nil
		},
	}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "m-after", res.Messages[0].ID)
}

func TestSyncUser_SecondRunIsIdempotent(t *testing.T) {
	st := newMockStore()
	cutoff := readyConn(st, "u1")
	received := cutoff.Add(time.Minute)
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m1"}}, nil
		},
		getFn: func(_ context.Context, _, id string) (*gmail.RawMessage, error) {
			return rawMessage(id, received), nil
		},
	}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	// Rewind the watermark so the same message is listed again; the dedup
	// check must absorb it.
	st.conns["u1"].LastPollAt = cutoff
	res, err = s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
}

func TestSyncUser_PartialFetchFailureIsolated(t *testing.T) {
	st := newMockStore()
	cutoff := readyConn(st, "u1")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m-bad"}, {ID: "m-good"}}, nil
		},
		getFn: func(_ context.Context, _, id string) (*gmail.RawMessage, error) {
			if id == "m-bad" {
				return nil, errors.New("boom")
			}
			return rawMessage(id, cutoff.Add(time.Minute)), nil
		},
	}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.ErrorDetails, 1)
	assert.Contains(t, res.ErrorDetails[0], "m-bad")
	assert.Equal(t, []time.Time{syncNow}, st.advanceCalls, "watermark still advances")
}

func TestSyncUser_ListFailureAbortsWithoutAdvance(t *testing.T) {
	st := newMockStore()
	readyConn(st, "u1")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return nil, errors.New("upstream down")
		},
	}
	s := newTestSync(st, mail, nil)

	_, err := s.SyncUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Empty(t, st.advanceCalls)
	assert.Equal(t, 1, st.pollErrCalls)
}

func TestSyncUser_TransientListFailureSurfacedWithoutRetry(t *testing.T) {
	st := newMockStore()
	readyConn(st, "u1")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return nil, &gmail.APIError{StatusCode: 503, Message: "backend error"}
		},
	}
	s := newTestSync(st, mail, nil)

	// No in-run retry: the failure is classified transient and the next
	// scheduled cycle re-reads the same window.
	_, err := s.SyncUser(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 1, mail.listCalls)
	assert.Empty(t, st.advanceCalls)
	assert.Equal(t, 1, st.pollErrCalls)
}

func TestSyncUser_AuthFailureInvalidatesToken(t *testing.T) {
	st := newMockStore()
	readyConn(st, "u1")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return nil, &gmail.APIError{StatusCode: 401, Message: "invalid credentials"}
		},
	}
	tok := &mockTokens{token: "stale"}
	s := newTestSync(st, mail, tok)

	_, err := s.SyncUser(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, resilience.IsConfig(err))
	assert.Equal(t, []string{"u1"}, tok.invalidated)
}

func TestSyncUser_InsertFailureAbortsWithoutAdvance(t *testing.T) {
	st := newMockStore()
	cutoff := readyConn(st, "u1")
	st.insertErr = errors.New("db down")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m1"}}, nil
		},
		getFn: func(_ context.Context, _, id string) (*gmail.RawMessage, error) {
			return rawMessage(id, cutoff.Add(time.Minute)), nil
		},
	}
	s := newTestSync(st, mail, nil)

	_, err := s.SyncUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Empty(t, st.advanceCalls)
	assert.Equal(t, 1, st.pollErrCalls)
}

func TestSyncUser_WatermarkAdvanceFailureNotFatal(t *testing.T) {
	st := newMockStore()
	cutoff := readyConn(st, "u1")
	st.advanceErr = errors.New("db hiccup")
	mail := &mockMail{
		listFn: func(_ context.Context, _ string, _ time.Time, _ int) ([]gmail.MessageRef, error) {
			return []gmail.MessageRef{{ID: "m1"}}, nil
		},
		getFn: func(_ context.Context, _, id string) (*gmail.RawMessage, error) {
			return rawMessage(id, cutoff.Add(time.Minute)), nil
		},
	}
	s := newTestSync(st, mail, nil)

	res, err := s.SyncUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}

func TestSyncUser_TokenFailurePropagates(t *testing.T) {
	st := newMockStore()
	readyConn(st, "u1")
	tok := &mockTokens{err: resilience.NewConfigError(errors.New("no token"), "add the token")}
	s := newTestSync(st, &mockMail{}, tok)

	_, err := s.SyncUser(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, resilience.IsConfig(err))
}

func TestNormalize_FlagDerivation(t *testing.T) {
	received := syncNow.Add(-time.Minute)

	raw := rawMessage("m1", received)
	raw.Snippet = "see https://acme.com/quote for details"
	raw.Payload.Parts = []gmail.Part{
		{MimeType: "text/plain"},
		{MimeType: "image/png", Filename: "logo.png"},
	}

	msg := normalize(raw, received)
	assert.True(t, msg.HasAttachments)
	assert.True(t, msg.HasImages)
	assert.True(t, msg.HasLinks)
	assert.Equal(t, received, msg.ReceivedAt)

	plain := rawMessage("m2", received)
	msg = normalize(plain, received)
	assert.False(t, msg.HasAttachments)
	assert.False(t, msg.HasImages)
	assert.False(t, msg.HasLinks)
}

func TestNormalize_SubjectFallback(t *testing.T) {
	raw := &gmail.RawMessage{ID: "m1", InternalDate: "1767950000000"}
	msg := normalize(raw, syncNow)
	assert.Equal(t, "(no subject)", msg.Subject)
	assert.Equal(t, "https://mail.google.com/mail/u/0/#inbox/m1", msg.Permalink, "falls back to the message id when the thread id is absent")
}
