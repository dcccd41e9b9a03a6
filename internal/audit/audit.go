// Package audit records per-session execution traces made of timed steps.
package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/pubsub"
	"github.com/tidwall/sjson"
)

type (
	Step   = proto.AuditStep
	Status = proto.StepStatus
	Stats  = proto.AuditStats
)

type trail struct {
	steps []*Step
	// running holds, per step name, the indexes of still-running steps in
	// start order. The last element is the one EndStep closes.
	running map[string][]int
}

// Recorder keeps one ordered trail of steps per session.
type Recorder struct {
	*pubsub.Broker[Step]

	mu     sync.Mutex
	trails map[string]*trail
	now    func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		Broker: pubsub.NewBroker[Step](),
		trails: make(map[string]*trail),
		now:    time.Now,
	}
}

// StartStep appends a running step to the session's trail. details may be
// nil or any value that encodes to a JSON object.
func (r *Recorder) StartStep(sessionID, name string, details any) Step {
	step, _, _ := r.startStep(sessionID, name, details, nil)
	return step
}

// trailLocked returns the session's trail. With want set, the trail must
// still be want; a forgotten or replaced trail yields nil.
func (r *Recorder) trailLocked(sessionID string, want *trail) *trail {
	t := r.trails[sessionID]
	if want != nil && t != want {
		return nil
	}
	return t
}

func (r *Recorder) ensureTrailLocked(sessionID string) *trail {
	t, ok := r.trails[sessionID]
	if !ok {
		t = &trail{running: make(map[string][]int)}
		r.trails[sessionID] = t
	}
	return t
}

func (r *Recorder) startStep(sessionID, name string, details any, want *trail) (Step, int, bool) {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			slog.Warn("Failed to encode audit details", "step", name, "error", err)
		} else {
			raw = b
		}
	}

	r.mu.Lock()
	var t *trail
	if want == nil {
		t = r.ensureTrailLocked(sessionID)
	} else if t = r.trailLocked(sessionID, want); t == nil {
		r.mu.Unlock()
		return Step{SessionID: sessionID, Step: name, Status: proto.StepRunning}, 0, false
	}
	step := &Step{
		SessionID: sessionID,
		Step:      name,
		Status:    proto.StepRunning,
		StartedAt: proto.Time{Time: r.now()},
		Details:   raw,
	}
	t.steps = append(t.steps, step)
	idx := len(t.steps) - 1
	t.running[name] = append(t.running[name], idx)
	snap := snapshot(step)
	r.mu.Unlock()

	r.Publish(pubsub.CreatedEvent, snap)
	return snap, idx, true
}

// EndStep closes the most recently started step of that name that is still
// running. It is a no-op when no such step exists.
func (r *Recorder) EndStep(sessionID, name string, status Status, errText string) {
	r.endStep(sessionID, name, status, errText, nil)
}

func (r *Recorder) endStep(sessionID, name string, status Status, errText string, want *trail) (int, bool) {
	r.mu.Lock()
	t := r.trailLocked(sessionID, want)
	if t == nil {
		r.mu.Unlock()
		return 0, false
	}
	stack := t.running[name]
	if len(stack) == 0 {
		r.mu.Unlock()
		return 0, false
	}
	idx := stack[len(stack)-1]
	snap := r.closeLocked(t, idx, status, errText)
	r.mu.Unlock()

	r.Publish(pubsub.UpdatedEvent, snap)
	return idx, true
}

// closeAt closes the step at idx if it is still running.
func (r *Recorder) closeAt(sessionID string, idx int, status Status, errText string, want *trail) {
	r.mu.Lock()
	t := r.trailLocked(sessionID, want)
	if t == nil || idx >= len(t.steps) || t.steps[idx].Status != proto.StepRunning {
		r.mu.Unlock()
		return
	}
	snap := r.closeLocked(t, idx, status, errText)
	r.mu.Unlock()

	r.Publish(pubsub.UpdatedEvent, snap)
}

func (r *Recorder) closeLocked(t *trail, idx int, status Status, errText string) Step {
	step := t.steps[idx]
	ended := r.now()
	if ended.Before(step.StartedAt.Time) {
		ended = step.StartedAt.Time
	}
	duration := ended.Sub(step.StartedAt.Time).Milliseconds()
	step.EndedAt = &proto.Time{Time: ended}
	step.DurationMS = &duration
	step.Status = status
	if errText != "" {
		step.Error = &errText
	}

	stack := t.running[step.Step]
	if i := slices.Index(stack, idx); i >= 0 {
		stack = slices.Delete(stack, i, i+1)
	}
	if len(stack) == 0 {
		delete(t.running, step.Step)
	} else {
		t.running[step.Step] = stack
	}
	return snapshot(step)
}

// Annotate sets key in the details of the most recent running step of that
// name.
func (r *Recorder) Annotate(sessionID, name, key string, value any) {
	r.annotate(sessionID, name, key, value, nil)
}

func (r *Recorder) annotate(sessionID, name, key string, value any, want *trail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trailLocked(sessionID, want)
	if t == nil {
		return
	}
	stack := t.running[name]
	if len(stack) == 0 {
		return
	}
	step := t.steps[stack[len(stack)-1]]
	details := step.Details
	if len(details) == 0 || bytes.Equal(details, []byte("null")) {
		details = []byte("{}")
	}
	updated, err := sjson.SetBytes(details, key, value)
	if err != nil {
		slog.Warn("Failed to annotate audit step", "step", name, "key", key, "error", err)
		return
	}
	step.Details = updated
}

// Trail returns a copy of the session's steps in start order.
func (r *Recorder) Trail(sessionID string) []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trails[sessionID]
	if !ok {
		return []Step{}
	}
	out := make([]Step, len(t.steps))
	for i, s := range t.steps {
		out[i] = snapshot(s)
	}
	return out
}

// Stats aggregates the session's trail. Steps that never ended count towards
// the total but not towards durations.
func (r *Recorder) Stats(sessionID string) Stats {
	var stats Stats
	for _, s := range r.Trail(sessionID) {
		stats.TotalSteps++
		if s.Status == proto.StepError {
			stats.Errors++
		}
		if s.EndedAt == nil {
			continue
		}
		stats.Completed++
		if s.DurationMS != nil {
			stats.TotalDurationMS += *s.DurationMS
		}
	}
	if stats.Completed > 0 {
		stats.AvgDurationMS = stats.TotalDurationMS / int64(stats.Completed)
	}
	return stats
}

// Forget drops the session's trail. Scopes opened on it stop recording.
func (r *Recorder) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trails, sessionID)
}

func snapshot(s *Step) Step {
	out := *s
	out.Details = bytes.Clone(s.Details)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	if s.DurationMS != nil {
		d := *s.DurationMS
		out.DurationMS = &d
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
