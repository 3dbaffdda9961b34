// Package state holds the client-side session state: the session list, the
// active session with its messages, and the in-flight flags. Mutations go
// through the manager, which applies optimistic updates and publishes a
// Change for every observable transition.
package state

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hatcher/kbchat/api"
	"github.com/hatcher/kbchat/models"
	"github.com/hatcher/kbchat/pkg/util"
	"github.com/hatcher/kbchat/pubsub"
	"github.com/pkg/errors"
)

const defaultPerPage = 20

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSendInFlight    = errors.New("a send is already in flight")
	ErrUploadInFlight  = errors.New("an upload is already in flight")
)

type Manager struct {
	*pubsub.Broker[Change]

	api *api.Client

	mu       sync.Mutex
	sessions []models.Session
	active   *models.Session
	messages []ChatMessage
	page     int
	perPage  int
	hasMore   bool
	loading   bool
	sending   bool
	uploading bool
	lastErr   string
}

func NewManager(client *api.Client) *Manager {
	return &Manager{
		Broker:  pubsub.NewBroker[Change](),
		api:     client,
		perPage: defaultPerPage,
		hasMore: true,
	}
}

// Sessions returns a copy of the loaded session list.
func (m *Manager) Sessions() []models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// Active returns a copy of the active session, or nil when none is open.
func (m *Manager) Active() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	s := *m.active
	return &s
}

// Messages returns a copy of the active session's message list.
func (m *Manager) Messages() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Manager) HasMore() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasMore
}

func (m *Manager) Sending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sending
}

func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) Uploading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploading
}

// LastError returns the most recent failure message, empty after a success.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// FetchSessions loads the next history page and appends it. With reset it
// starts over from page one. When the last page has already been reached the
// call is a no-op and performs no request.
func (m *Manager) FetchSessions(ctx context.Context, reset bool) error {
	m.mu.Lock()
	if m.loading {
		m.mu.Unlock()
		return nil
	}
	if !reset && !m.hasMore {
		m.mu.Unlock()
		return nil
	}
	page := m.page + 1
	if reset {
		page = 1
	}
	m.loading = true
	m.mu.Unlock()

	sessions, pagination, err := m.api.History(ctx, page, m.perPage)

	m.mu.Lock()
	m.loading = false
	if err != nil {
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.Publish(pubsub.UpdatedEvent, Change{Kind: ErrorChanged, Err: err.Error()})
		return err
	}
	if reset {
		m.sessions = sessions
	} else {
		m.sessions = append(m.sessions, sessions...)
	}
	m.page = page
	m.hasMore = pagination != nil && pagination.HasNext
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.UpdatedEvent, Change{Kind: SessionsChanged})
	return nil
}

// CreateSession creates a session, prepends it to the list and makes it
// active with an empty message view.
func (m *Manager) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	session, err := m.api.NewSession(ctx, title, "")
	if err != nil {
		m.setError(err)
		return nil, err
	}

	m.mu.Lock()
	m.sessions = append([]models.Session{*session}, m.sessions...)
	m.active = session
	m.messages = nil
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.CreatedEvent, Change{Kind: SessionsChanged, SessionID: session.ID})
	m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: session.ID})
	return session, nil
}

// LoadSession makes the given session active and replaces the message view
// with its server-side history. On failure nothing changes.
func (m *Manager) LoadSession(ctx context.Context, id int64) error {
	detail, err := m.api.GetSession(ctx, id)
	if err != nil {
		m.setError(err)
		return err
	}

	msgs := make([]ChatMessage, 0, len(detail.Messages))
	for _, msg := range detail.Messages {
		msgs = append(msgs, ChatMessage{Message: msg, Status: StatusConfirmed})
	}

	m.mu.Lock()
	session := detail.Session
	m.active = &session
	m.messages = msgs
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: id})
	return nil
}

// RenameSession updates the title on the server and in the local list.
func (m *Manager) RenameSession(ctx context.Context, id int64, title string) error {
	session, err := m.api.UpdateSessionTitle(ctx, id, title)
	if err != nil {
		m.setError(err)
		return err
	}

	m.mu.Lock()
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions[i] = *session
			break
		}
	}
	if m.active != nil && m.active.ID == id {
		m.active = session
	}
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.UpdatedEvent, Change{Kind: SessionsChanged, SessionID: id})
	return nil
}

// DeleteSession removes the session on the server and locally. A 404 counts
// as success so that deleting an already-gone session converges.
func (m *Manager) DeleteSession(ctx context.Context, id int64) error {
	if err := m.api.DeleteSession(ctx, id); err != nil && !api.IsNotFound(err) {
		m.setError(err)
		return err
	}

	m.mu.Lock()
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	clearedActive := false
	if m.active != nil && m.active.ID == id {
		m.active = nil
		m.messages = nil
		clearedActive = true
	}
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.DeletedEvent, Change{Kind: SessionsChanged, SessionID: id})
	if clearedActive {
		m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: id})
	}
	return nil
}

// SendMessage appends the user message provisionally, posts it, and on
// success confirms it and appends the reply. On failure the provisional
// entry is removed. Only one send may be in flight at a time.
func (m *Manager) SendMessage(ctx context.Context, req api.SendMessageRequest) error {
	sid, localID, err := m.beginSend(req)
	if err != nil {
		return err
	}

	reply, err := m.api.SendMessage(ctx, sid, req)
	if err != nil {
		m.rollbackSend(sid, err, localID)
		return err
	}

	m.mu.Lock()
	m.sending = false
	if m.active != nil && m.active.ID == sid {
		m.confirmLocked(localID, nil)
		m.messages = append(m.messages, ChatMessage{Message: *reply, Status: StatusConfirmed})
		m.touchSessionLocked(sid, req.Message)
	}
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: sid})
	return nil
}

// SendMessageStream sends through the streaming endpoint. The user message
// and an empty assistant message are appended provisionally; content deltas
// grow the assistant entry, and the terminal event replaces it with the
// server's persisted record. The call blocks until the stream ends.
func (m *Manager) SendMessageStream(ctx context.Context, req api.SendMessageRequest) error {
	sid, userLocal, err := m.beginSend(req)
	if err != nil {
		return err
	}

	aiLocal := util.GenerateShortID()
	m.mu.Lock()
	if m.active != nil && m.active.ID == sid {
		m.messages = append(m.messages, ChatMessage{
			Message: models.Message{
				SessionID:     sid,
				Role:          models.RoleAI,
				IsDeepThought: req.IsDeepThought,
				CreatedAt:     time.Now().UTC().Format(time.RFC3339),
			},
			Status:  StatusProvisional,
			LocalID: aiLocal,
		})
	}
	m.mu.Unlock()
	m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: sid})

	st, err := m.api.StreamMessage(ctx, sid, req)
	if err != nil {
		m.rollbackSend(sid, err, userLocal, aiLocal)
		return err
	}
	defer st.Close()

	confirmed := false
	for {
		ev, err := st.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			m.rollbackSend(sid, err, userLocal, aiLocal)
			return err
		}
		if ev.Done {
			m.mu.Lock()
			if m.active != nil && m.active.ID == sid {
				m.confirmLocked(userLocal, nil)
				m.confirmLocked(aiLocal, ev.Message)
				m.touchSessionLocked(sid, req.Message)
			}
			m.mu.Unlock()
			confirmed = true
			m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: sid})
			continue
		}
		if ev.Content == "" {
			continue
		}
		m.mu.Lock()
		if m.active != nil && m.active.ID == sid {
			m.appendContentLocked(aiLocal, ev.Content)
		}
		m.mu.Unlock()
		m.Publish(pubsub.UpdatedEvent, Change{Kind: DeltaReceived, SessionID: sid, Delta: ev.Content})
	}

	m.mu.Lock()
	m.sending = false
	if !confirmed && m.active != nil && m.active.ID == sid {
		// Stream ended without a terminal event; keep what arrived.
		m.confirmLocked(userLocal, nil)
		m.confirmLocked(aiLocal, nil)
		m.touchSessionLocked(sid, req.Message)
	}
	m.lastErr = ""
	m.mu.Unlock()

	m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: sid})
	return nil
}

// UploadDocument pushes a local file to the backend. One upload at a time.
func (m *Manager) UploadDocument(ctx context.Context, path string) (*models.FileDocument, error) {
	m.mu.Lock()
	if m.uploading {
		m.mu.Unlock()
		return nil, ErrUploadInFlight
	}
	m.uploading = true
	m.mu.Unlock()

	doc, err := m.api.UploadFile(ctx, path)

	m.mu.Lock()
	m.uploading = false
	if err != nil {
		m.lastErr = err.Error()
	} else {
		m.lastErr = ""
	}
	m.mu.Unlock()

	if err != nil {
		m.Publish(pubsub.UpdatedEvent, Change{Kind: ErrorChanged, Err: err.Error()})
		return nil, err
	}
	return doc, nil
}

// beginSend validates the preconditions, flips the sending flag and appends
// the provisional user message.
func (m *Manager) beginSend(req api.SendMessageRequest) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return 0, "", ErrNoActiveSession
	}
	if m.sending {
		return 0, "", ErrSendInFlight
	}
	m.sending = true

	localID := util.GenerateShortID()
	m.messages = append(m.messages, ChatMessage{
		Message: models.Message{
			SessionID: m.active.ID,
			Role:      models.RoleUser,
			Content:   req.Message,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
		Status:  StatusProvisional,
		LocalID: localID,
	})
	return m.active.ID, localID, nil
}

// rollbackSend removes the named provisional entries and records the error.
func (m *Manager) rollbackSend(sid int64, cause error, localIDs ...string) {
	m.mu.Lock()
	m.sending = false
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.Status == StatusProvisional && contains(localIDs, msg.LocalID) {
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	m.lastErr = cause.Error()
	m.mu.Unlock()

	m.Publish(pubsub.UpdatedEvent, Change{Kind: MessagesChanged, SessionID: sid})
	m.Publish(pubsub.UpdatedEvent, Change{Kind: ErrorChanged, SessionID: sid, Err: cause.Error()})
}

// confirmLocked marks the entry confirmed, replacing it with the server
// record when one is given. Callers hold m.mu.
func (m *Manager) confirmLocked(localID string, record *models.Message) {
	for i := range m.messages {
		if m.messages[i].LocalID != localID {
			continue
		}
		if record != nil {
			m.messages[i].Message = *record
		}
		m.messages[i].Status = StatusConfirmed
		return
	}
}

func (m *Manager) appendContentLocked(localID, delta string) {
	for i := range m.messages {
		if m.messages[i].LocalID == localID {
			m.messages[i].Content += delta
			return
		}
	}
}

// touchSessionLocked refreshes the list entry's preview and counters after a
// completed exchange. Callers hold m.mu.
func (m *Manager) touchSessionLocked(sid int64, preview string) {
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range m.sessions {
		if m.sessions[i].ID == sid {
			m.sessions[i].Preview = preview
			m.sessions[i].MessageCount += 2
			m.sessions[i].LastActiveAt = now
			break
		}
	}
	if m.active != nil && m.active.ID == sid {
		m.active.Preview = preview
		m.active.MessageCount += 2
		m.active.LastActiveAt = now
	}
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
	m.Publish(pubsub.UpdatedEvent, Change{Kind: ErrorChanged, Err: err.Error()})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
