package proto

type Session struct {
	ID           string    `json:"session_id"`
	Title        *string   `json:"title"`
	Favorite     bool      `json:"favorite"`
	ProjectID    *string   `json:"project_id"`
	Model        string    `json:"model"`
	Messages     []Message `json:"messages"`
	MessageCount int       `json:"message_count"`
	CreatedAt    Time      `json:"created_at"`
	UpdatedAt    Time      `json:"updated_at"`
}

// Info returns the summary view of the session.
func (s Session) Info() SessionInfo {
	return SessionInfo{
		ID:           s.ID,
		Title:        s.Title,
		Favorite:     s.Favorite,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
		Model:        s.Model,
	}
}

// TitleText returns the title, or an empty string when none is set.
func (s Session) TitleText() string {
	if s.Title == nil {
		return ""
	}
	return *s.Title
}

// SessionInfo is the list view of a session.
type SessionInfo struct {
	ID           string  `json:"session_id"`
	Title        *string `json:"title"`
	Favorite     bool    `json:"favorite"`
	UpdatedAt    Time    `json:"updated_at"`
	MessageCount int     `json:"message_count"`
	Model        string  `json:"model"`
}

// SessionUpdate holds the optional properties of a session update. Nil
// fields are left unchanged.
type SessionUpdate struct {
	Title     *string `json:"title,omitempty"`
	Favorite  *bool   `json:"favorite,omitempty"`
	ProjectID *string `json:"project_id,omitempty"`
}

// SessionDeleted is the response to a session deletion.
type SessionDeleted struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// SessionMessages wraps a session's messages.
type SessionMessages struct {
	Messages []Message `json:"messages"`
}
