package audit

import (
	"sync"

	"github.com/tejjnayak/sandchat/internal/proto"
)

// Scope tracks the steps one request opens on a session, so that the
// request can close whatever it left running when it stops early. A scope
// is bound to the trail that existed when it was opened: once the session
// is forgotten, its calls are no-ops.
type Scope struct {
	r         *Recorder
	sessionID string
	t         *trail

	mu   sync.Mutex
	open []int
}

// Scope opens a request scope on the session's trail.
func (r *Recorder) Scope(sessionID string) *Scope {
	r.mu.Lock()
	t := r.ensureTrailLocked(sessionID)
	r.mu.Unlock()
	return &Scope{r: r, sessionID: sessionID, t: t}
}

func (s *Scope) Start(name string, details any) Step {
	step, idx, ok := s.r.startStep(s.sessionID, name, details, s.t)
	if !ok {
		return step
	}
	s.mu.Lock()
	s.open = append(s.open, idx)
	s.mu.Unlock()
	return step
}

func (s *Scope) End(name string, status Status, errText string) {
	idx, ok := s.r.endStep(s.sessionID, name, status, errText, s.t)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.open {
		if o == idx {
			s.open = append(s.open[:i], s.open[i+1:]...)
			break
		}
	}
}

func (s *Scope) Annotate(name, key string, value any) {
	s.r.annotate(s.sessionID, name, key, value, s.t)
}

// Abort closes every step this scope started that is still running, newest
// first, with status aborted.
func (s *Scope) Abort(reason string) {
	s.mu.Lock()
	open := s.open
	s.open = nil
	s.mu.Unlock()

	for i := len(open) - 1; i >= 0; i-- {
		s.r.closeAt(s.sessionID, open[i], proto.StepAborted, reason, s.t)
	}
}
