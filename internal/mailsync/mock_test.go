package mailsync

import (
	"context"
	"strconv"
	"time"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/pkg/gmail"
)

// mockStore is a hand-rolled in-memory Store for synchronizer tests.
type mockStore struct {
	conns    map[string]*model.Connection
	messages map[string]model.NormalizedMessage // userID|providerMessageID

	baselineCalls []time.Time
	readyCalls    int
	advanceCalls  []time.Time
	pollErrCalls  int
	insertedBatch [][]model.NormalizedMessage
	getConnErr    error
	insertErr     error
	advanceErr    error
	existsErr     error
}

func newMockStore() *mockStore {
	return &mockStore{
		conns:    make(map[string]*model.Connection),
		messages: make(map[string]model.NormalizedMessage),
	}
}

func (m *mockStore) GetConnection(_ context.Context, userID string) (*model.Connection, error) {
	if m.getConnErr != nil {
		return nil, m.getConnErr
	}
	c, ok := m.conns[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) EstablishBaseline(_ context.Context, userID string, at time.Time) error {
	m.baselineCalls = append(m.baselineCalls, at)
	m.conns[userID] = &model.Connection{UserID: userID, BaselineAt: at, BaselineReady: true, LastPollAt: at}
	return nil
}

func (m *mockStore) MarkBaselineReady(_ context.Context, userID string) error {
	m.readyCalls++
	m.conns[userID].BaselineReady = true
	return nil
}

func (m *mockStore) AdvanceWatermark(_ context.Context, userID string, at time.Time) error {
	m.advanceCalls = append(m.advanceCalls, at)
	if m.advanceErr != nil {
		return m.advanceErr
	}
	c := m.conns[userID]
	if at.After(c.LastPollAt) {
		c.LastPollAt = at
	}
	c.LastPollErrCount = 0
	return nil
}

func (m *mockStore) IncrementPollErrors(_ context.Context, userID string) error {
	m.pollErrCalls++
	if c, ok := m.conns[userID]; ok {
		c.LastPollErrCount++
	}
	return nil
}

func (m *mockStore) ResetConnection(_ context.Context, userID string) error {
	m.conns[userID] = &model.Connection{UserID: userID}
	return nil
}

func (m *mockStore) MessageExists(_ context.Context, userID, messageID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.messages[userID+"|"+messageID]
	return ok, nil
}

func (m *mockStore) InsertMessages(_ context.Context, userID string, msgs []model.NormalizedMessage) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.insertedBatch = append(m.insertedBatch, msgs)
	for _, msg := range msgs {
		m.messages[userID+"|"+msg.ID] = msg
	}
	return nil
}

func (m *mockStore) GetMessage(_ context.Context, userID, messageID string) (*model.NormalizedMessage, error) {
	msg, ok := m.messages[userID+"|"+messageID]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (m *mockStore) ListPendingMessages(_ context.Context, _ string) ([]model.NormalizedMessage, error) {
	return nil, nil
}

func (m *mockStore) UpdateMessageStatus(_ context.Context, _, _, _, _ string) error {
	return nil
}

func (m *mockStore) CountMessages(_ context.Context, _, _ string) (int, error) {
	return len(m.messages), nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Close() error                    { return nil }

// mockMail is a hand-rolled gmail.Client.
type mockMail struct {
	listFn func(ctx context.Context, token string, after time.Time, max int) ([]gmail.MessageRef, error)
	getFn  func(ctx context.Context, token, id string) (*gmail.RawMessage, error)

	listCalls  int
	listAfter  []time.Time
	fetchedIDs []string
	tokensSeen []string
}

func (m *mockMail) ListUnread(ctx context.Context, token string, after time.Time, maxResults int) ([]gmail.MessageRef, error) {
	m.listCalls++
	m.listAfter = append(m.listAfter, after)
	m.tokensSeen = append(m.tokensSeen, token)
	if m.listFn != nil {
		return m.listFn(ctx, token, after, maxResults)
	}
	return nil, nil
}

func (m *mockMail) GetMessage(ctx context.Context, token, id string) (*gmail.RawMessage, error) {
	m.fetchedIDs = append(m.fetchedIDs, id)
	if m.getFn != nil {
		return m.getFn(ctx, token, id)
	}
	return rawMessage(id, time.Now()), nil
}

// rawMessage builds a minimal fetched message with the given receipt time.
func rawMessage(id string, received time.Time) *gmail.RawMessage {
	return &gmail.RawMessage{
		ID:           id,
		ThreadID:     "t-" + id,
		Snippet:      "snippet for " + id,
		InternalDate: strconv.FormatInt(received.UnixMilli(), 10),
		Payload: gmail.Payload{
			MimeType: "multipart/alternative",
			Headers: []gmail.Header{
				{Name: "Subject", Value: "subject " + id},
				{Name: "From", Value: "Jane Doe <jane@acme.com>"},
			},
		},
	}
}

// mockTokens is a hand-rolled TokenSource.
type mockTokens struct {
	token       string
	err         error
	invalidated []string
}

func (m *mockTokens) AccessToken(_ context.Context, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.token, nil
}

func (m *mockTokens) Invalidate(userID string) {
	m.invalidated = append(m.invalidated, userID)
}
