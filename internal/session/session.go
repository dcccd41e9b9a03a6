// Package session keeps chat sessions and their messages in memory.
package session

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rivo/uniseg"
	"github.com/sahilm/fuzzy"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/pubsub"
)

type (
	Session     = proto.Session
	SessionInfo = proto.SessionInfo
	Message     = proto.Message
	Role        = proto.MessageRole
	Update      = proto.SessionUpdate
)

// TitleLength is the number of characters kept when a title is derived from
// the first user message.
const TitleLength = 50

type Store interface {
	pubsub.Subscriber[SessionInfo]
	Create(model string) Session
	Get(id string) (Session, bool)
	GetOrCreate(id, model string) Session
	Current() (Session, bool)
	SetCurrent(id string) bool
	List() []SessionInfo
	Search(query string) []SessionInfo
	AddMessage(id string, role Role, content string) (Message, bool)
	Messages(id string) []Message
	Update(id string, params Update) (Session, bool)
	Delete(id string) bool
	Reset(model string) Session
	Len() int
	// Shutdown closes every subscription.
	Shutdown()
}

type entry struct {
	session Session
	seq     uint64
}

type store struct {
	*pubsub.Broker[SessionInfo]

	mu       sync.RWMutex
	sessions map[string]*entry
	current  string
	seq      uint64
	now      func() time.Time
}

func NewStore() Store {
	return newStore(time.Now)
}

func newStore(now func() time.Time) *store {
	return &store{
		Broker:   pubsub.NewBroker[SessionInfo](),
		sessions: make(map[string]*entry),
		now:      now,
	}
}

// Create registers a new empty session and makes it the current one.
func (s *store) Create(model string) Session {
	s.mu.Lock()
	sess := s.createLocked(model)
	s.mu.Unlock()

	s.Publish(pubsub.CreatedEvent, sess.Info())
	return sess
}

func (s *store) createLocked(model string) Session {
	if model == "" {
		model = proto.DefaultModel
	}
	now := proto.Time{Time: s.now()}
	s.seq++
	e := &entry{
		session: Session{
			ID:        uuid.New().String(),
			Model:     model,
			Messages:  []Message{},
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.seq,
	}
	s.sessions[e.session.ID] = e
	s.current = e.session.ID
	return clone(e.session)
}

func (s *store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return clone(e.session), true
}

// GetOrCreate returns the session with the given id, or a brand-new session
// when the id is empty or unknown.
func (s *store) GetOrCreate(id, model string) Session {
	s.mu.Lock()
	if e, ok := s.sessions[id]; ok && id != "" {
		defer s.mu.Unlock()
		return clone(e.session)
	}
	sess := s.createLocked(model)
	s.mu.Unlock()

	s.Publish(pubsub.CreatedEvent, sess.Info())
	return sess
}

func (s *store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return Session{}, false
	}
	e, ok := s.sessions[s.current]
	if !ok {
		return Session{}, false
	}
	return clone(e.session), true
}

func (s *store) SetCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	s.current = id
	return true
}

// List returns session summaries, most recently updated first. Sessions
// updated at the same instant keep their creation order.
func (s *store) List() []SessionInfo {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		if c := b.session.UpdatedAt.Compare(a.session.UpdatedAt.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	infos := make([]SessionInfo, len(entries))
	for i, e := range entries {
		infos[i] = clone(e.session).Info()
	}
	s.mu.RUnlock()
	return infos
}

// Search fuzzy-matches session titles against query, best matches first. An
// empty query lists every session.
func (s *store) Search(query string) []SessionInfo {
	infos := s.List()
	if query == "" {
		return infos
	}
	titles := make([]string, len(infos))
	for i, info := range infos {
		if info.Title != nil {
			titles[i] = *info.Title
		}
	}
	matches := fuzzy.Find(query, titles)
	result := make([]SessionInfo, 0, len(matches))
	for _, m := range matches {
		result = append(result, infos[m.Index])
	}
	return result
}

func (s *store) AddMessage(id string, role Role, content string) (Message, bool) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Message{}, false
	}
	now := proto.Time{Time: s.now()}
	msg := Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	e.session.Messages = append(e.session.Messages, msg)
	e.session.MessageCount = len(e.session.Messages)
	e.session.UpdatedAt = now
	if e.session.Title == nil && role == proto.User {
		title := deriveTitle(content)
		e.session.Title = &title
	}
	info := clone(e.session).Info()
	s.mu.Unlock()

	s.Publish(pubsub.UpdatedEvent, info)
	return msg, true
}

func (s *store) Messages(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return []Message{}
	}
	return slices.Clone(e.session.Messages)
}

// Update applies the non-nil fields of params and refreshes the session's
// update time.
func (s *store) Update(id string, params Update) (Session, bool) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Session{}, false
	}
	if params.Title != nil {
		title := *params.Title
		e.session.Title = &title
	}
	if params.Favorite != nil {
		e.session.Favorite = *params.Favorite
	}
	if params.ProjectID != nil {
		project := *params.ProjectID
		e.session.ProjectID = &project
	}
	e.session.UpdatedAt = proto.Time{Time: s.now()}
	sess := clone(e.session)
	s.mu.Unlock()

	s.Publish(pubsub.UpdatedEvent, sess.Info())
	return sess, true
}

func (s *store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	if s.current == id {
		s.current = ""
	}
	info := clone(e.session).Info()
	s.mu.Unlock()

	s.Publish(pubsub.DeletedEvent, info)
	return true
}

// Reset starts a fresh session and makes it current.
func (s *store) Reset(model string) Session {
	return s.Create(model)
}

func (s *store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func clone(sess Session) Session {
	sess.Messages = slices.Clone(sess.Messages)
	if sess.Messages == nil {
		sess.Messages = []Message{}
	}
	if sess.Title != nil {
		title := *sess.Title
		sess.Title = &title
	}
	if sess.ProjectID != nil {
		project := *sess.ProjectID
		sess.ProjectID = &project
	}
	return sess
}

func deriveTitle(content string) string {
	g := uniseg.NewGraphemes(content)
	n, end := 0, 0
	for g.Next() {
		if n == TitleLength {
			return content[:end] + "..."
		}
		_, end = g.Positions()
		n++
	}
	return content
}
