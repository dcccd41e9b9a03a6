package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/pubsub"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRecorder() (*Recorder, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewRecorder()
	r.now = clock.now
	return r, clock
}

func TestStartEnd(t *testing.T) {
	t.Parallel()

	r, clock := newTestRecorder()
	step := r.StartStep("s1", "create_sandbox", nil)
	require.Equal(t, proto.StepRunning, step.Status)
	require.Nil(t, step.EndedAt)

	clock.advance(250 * time.Millisecond)
	r.EndStep("s1", "create_sandbox", proto.StepSuccess, "")

	trail := r.Trail("s1")
	require.Len(t, trail, 1)
	require.Equal(t, proto.StepSuccess, trail[0].Status)
	require.NotNil(t, trail[0].EndedAt)
	require.EqualValues(t, 250, *trail[0].DurationMS)
	require.Nil(t, trail[0].Error)
	require.False(t, trail[0].EndedAt.Before(trail[0].StartedAt.Time))
}

func TestEndStep_LIFO(t *testing.T) {
	t.Parallel()

	r, clock := newTestRecorder()
	r.StartStep("s1", "X", nil)
	clock.advance(time.Millisecond)
	r.StartStep("s1", "X", nil)
	clock.advance(time.Millisecond)

	r.EndStep("s1", "X", proto.StepSuccess, "")

	trail := r.Trail("s1")
	require.Equal(t, proto.StepRunning, trail[0].Status)
	require.Nil(t, trail[0].EndedAt)
	require.Equal(t, proto.StepSuccess, trail[1].Status)
	require.NotNil(t, trail[1].EndedAt)

	r.EndStep("s1", "X", proto.StepError, "boom")
	trail = r.Trail("s1")
	require.Equal(t, proto.StepError, trail[0].Status)
	require.Equal(t, "boom", *trail[0].Error)
}

func TestEndStep_NoMatch(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	r.EndStep("unknown", "X", proto.StepSuccess, "")
	require.Empty(t, r.Trail("unknown"))

	r.StartStep("s1", "X", nil)
	r.EndStep("s1", "Y", proto.StepSuccess, "")
	r.EndStep("s1", "X", proto.StepSuccess, "")
	r.EndStep("s1", "X", proto.StepError, "late")

	trail := r.Trail("s1")
	require.Len(t, trail, 1)
	require.Equal(t, proto.StepSuccess, trail[0].Status)
	require.Nil(t, trail[0].Error)
}

func TestStats(t *testing.T) {
	t.Parallel()

	r, clock := newTestRecorder()
	require.Equal(t, Stats{}, r.Stats("s1"))

	r.StartStep("s1", "a", nil)
	clock.advance(100 * time.Millisecond)
	r.EndStep("s1", "a", proto.StepSuccess, "")

	r.StartStep("s1", "b", nil)
	clock.advance(51 * time.Millisecond)
	r.EndStep("s1", "b", proto.StepError, "failed")

	r.StartStep("s1", "c", nil)
	clock.advance(time.Second)

	stats := r.Stats("s1")
	require.Equal(t, 3, stats.TotalSteps)
	require.Equal(t, 2, stats.Completed)
	require.Equal(t, 1, stats.Errors)
	require.EqualValues(t, 151, stats.TotalDurationMS)
	require.EqualValues(t, 75, stats.AvgDurationMS)
}

func TestStats_JSONKeys(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Stats{})
	require.NoError(t, err)
	require.JSONEq(t, `{"total_steps":0,"completed":0,"errors":0,"total_duration_ms":0,"avg_duration_ms":0}`, string(b))
}

func TestAnnotate(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	r.StartStep("s1", "rag_search", map[string]any{"query": "q", "top_k": 3})
	r.Annotate("s1", "rag_search", "results", 2)
	r.StartStep("s1", "extract_artifacts", nil)
	r.Annotate("s1", "extract_artifacts", "artifacts", 1)
	r.Annotate("s1", "missing", "x", 1)

	trail := r.Trail("s1")
	require.JSONEq(t, `{"query":"q","top_k":3,"results":2}`, string(trail[0].Details))
	require.JSONEq(t, `{"artifacts":1}`, string(trail[1].Details))
}

func TestScope_Abort(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	other := r.Scope("s1")
	other.Start("minimax_api", nil)

	scope := r.Scope("s1")
	scope.Start("create_sandbox", nil)
	scope.End("create_sandbox", proto.StepSuccess, "")
	scope.Start("minimax_api", nil)
	scope.Start("extract_artifacts", nil)

	scope.Abort("context canceled")

	trail := r.Trail("s1")
	require.Len(t, trail, 4)
	require.Equal(t, proto.StepRunning, trail[0].Status, "other request's step is untouched")
	require.Equal(t, proto.StepSuccess, trail[1].Status)
	require.Equal(t, proto.StepAborted, trail[2].Status)
	require.Equal(t, "context canceled", *trail[2].Error)
	require.Equal(t, proto.StepAborted, trail[3].Status)

	stats := r.Stats("s1")
	require.Equal(t, 3, stats.Completed)
	require.Zero(t, stats.Errors)
}

func TestForget(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	r.StartStep("s1", "a", nil)
	r.Forget("s1")
	require.Empty(t, r.Trail("s1"))
}

func TestScope_AfterForget(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	scope := r.Scope("s1")
	scope.Start("create_sandbox", nil)
	r.Forget("s1")

	scope.Start("minimax_api", nil)
	scope.Annotate("minimax_api", "reply_chars", 3)
	scope.End("create_sandbox", proto.StepSuccess, "")
	require.Empty(t, r.Trail("s1"), "a forgotten session gets no new trail")

	r.StartStep("s1", "other", nil)
	scope.Abort("session deleted")
	trail := r.Trail("s1")
	require.Len(t, trail, 1)
	require.Equal(t, "other", trail[0].Step)
	require.Equal(t, proto.StepRunning, trail[0].Status)
}

func TestTrailIsCopy(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	r.StartStep("s1", "a", nil)
	r.EndStep("s1", "a", proto.StepError, "x")

	trail := r.Trail("s1")
	*trail[0].Error = "changed"
	*trail[0].DurationMS = 999
	require.Equal(t, "x", *r.Trail("s1")[0].Error)
	require.Zero(t, *r.Trail("s1")[0].DurationMS)
}

func TestPublishesSteps(t *testing.T) {
	t.Parallel()

	r, _ := newTestRecorder()
	ch := r.Subscribe(t.Context())
	r.StartStep("s1", "a", nil)
	r.EndStep("s1", "a", proto.StepSuccess, "")

	ev := <-ch
	require.Equal(t, pubsub.CreatedEvent, ev.Type)
	ev = <-ch
	require.Equal(t, pubsub.UpdatedEvent, ev.Type)
	require.Equal(t, proto.StepSuccess, ev.Payload.Status)
}
