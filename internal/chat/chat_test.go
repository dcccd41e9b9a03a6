package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tejjnayak/sandchat/internal/audit"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/sandbox"
	"github.com/tejjnayak/sandchat/internal/session"
)

type fakeSandbox struct {
	id       string
	reply    string
	setupErr error
	sendErr  error
	block    bool
	onSend   func()

	mu       sync.Mutex
	received []string
	closed   bool
}

func (s *fakeSandbox) ID() string { return s.id }

func (s *fakeSandbox) Setup(context.Context) error { return s.setupErr }

func (s *fakeSandbox) Send(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	s.received = append(s.received, text)
	s.mu.Unlock()
	if s.onSend != nil {
		s.onSend()
	}
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.sendErr != nil {
		return "", s.sendErr
	}
	return s.reply, nil
}

func (s *fakeSandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSandbox) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *fakeSandbox) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeService struct {
	sb        *fakeSandbox
	createErr error
}

func (f *fakeService) Create(context.Context) (sandbox.Sandbox, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.sb, nil
}

func (f *fakeService) Active() int { return 0 }

func (f *fakeService) Model() string { return "fake-model" }

type fakeRetriever struct {
	results []proto.KnowledgeResult
	err     error
}

func (f fakeRetriever) Search(context.Context, string, int) ([]proto.KnowledgeResult, error) {
	return f.results, f.err
}

type fakeExtractor struct {
	count int
}

func (f fakeExtractor) Extract(text string) (string, int) {
	return text, f.count
}

type harness struct {
	sessions session.Store
	recorder *audit.Recorder
	sb       *fakeSandbox
	svc      *fakeService
}

func newHarness(reply string) *harness {
	sb := &fakeSandbox{id: "sb-1", reply: reply}
	return &harness{
		sessions: session.NewStore(),
		recorder: audit.NewRecorder(),
		sb:       sb,
		svc:      &fakeService{sb: sb},
	}
}

func (h *harness) orchestrator(ext Extractor, opts ...Option) *Orchestrator {
	opts = append([]Option{WithChunkDelay(0)}, opts...)
	return New(h.sessions, h.recorder, h.svc, ext, opts...)
}

func collect(t *testing.T, events <-chan proto.StreamEvent) []proto.StreamEvent {
	t.Helper()
	var out []proto.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func kinds(events []proto.StreamEvent) []proto.StreamEventKind {
	out := make([]proto.StreamEventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func stepStatuses(trail []audit.Step) map[string]proto.StepStatus {
	out := make(map[string]proto.StepStatus, len(trail))
	for _, s := range trail {
		out[s.Step] = s.Status
	}
	return out
}

func TestStream_Success(t *testing.T) {
	t.Parallel()

	h := newHarness("Hi there friend")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	require.Equal(t, []proto.StreamEventKind{
		proto.StreamSessionInit,
		proto.StreamChunk,
		proto.StreamChunk,
		proto.StreamChunk,
		proto.StreamDone,
	}, kinds(events))

	sessionID := events[0].SessionID
	require.NotEmpty(t, sessionID)
	require.Equal(t, "Hi ", events[1].Text)
	require.True(t, events[1].RefreshSessions)
	require.False(t, events[2].RefreshSessions)
	for _, ev := range events[1:4] {
		require.Equal(t, sessionID, ev.SessionID)
	}

	msgs := h.sessions.Messages(sessionID)
	require.Len(t, msgs, 2)
	require.Equal(t, proto.User, msgs[0].Role)
	require.Equal(t, "Hello", msgs[0].Content)
	require.Equal(t, proto.Assistant, msgs[1].Role)
	require.Equal(t, "Hi there friend", msgs[1].Content)

	sess, ok := h.sessions.Get(sessionID)
	require.True(t, ok)
	require.Equal(t, "Hello", sess.TitleText())

	trail := h.recorder.Trail(sessionID)
	names := make([]string, len(trail))
	for i, s := range trail {
		names[i] = s.Step
		require.Equal(t, proto.StepSuccess, s.Status)
	}
	require.Equal(t, []string{StepCreateSandbox, StepSetupSandbox, StepModelCall, StepExtractArtifacts}, names)
	require.True(t, h.sb.isClosed())
}

func TestStream_ExistingSession(t *testing.T) {
	t.Parallel()

	h := newHarness("ok")
	existing := h.sessions.Create("haiku")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "again", SessionID: existing.ID}))
	require.Equal(t, existing.ID, events[0].SessionID)
	require.Equal(t, 1, h.sessions.Len())
}

func TestStream_UnknownSessionCreatesNew(t *testing.T) {
	t.Parallel()

	h := newHarness("ok")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "hi", SessionID: "missing"}))
	require.NotEqual(t, "missing", events[0].SessionID)
	require.NotEmpty(t, events[0].SessionID)
}

func TestStream_CreateFailure(t *testing.T) {
	t.Parallel()

	h := newHarness("unused")
	h.svc.createErr = errors.New("quota exceeded")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	require.Equal(t, []proto.StreamEventKind{proto.StreamSessionInit, proto.StreamError}, kinds(events))
	require.Contains(t, events[1].Error, "quota exceeded")

	sessionID := events[0].SessionID
	require.Empty(t, h.sessions.Messages(sessionID))
	trail := h.recorder.Trail(sessionID)
	require.Len(t, trail, 1)
	require.Equal(t, proto.StepError, trail[0].Status)
	require.NotNil(t, trail[0].Error)
}

func TestStream_SetupFailureClosesSandbox(t *testing.T) {
	t.Parallel()

	h := newHarness("unused")
	h.sb.setupErr = errors.New("boot failed")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	require.Equal(t, proto.StreamError, events[len(events)-1].Kind)
	for _, ev := range events {
		require.NotEqual(t, proto.StreamDone, ev.Kind)
	}
	require.True(t, h.sb.isClosed())

	statuses := stepStatuses(h.recorder.Trail(events[0].SessionID))
	require.Equal(t, proto.StepSuccess, statuses[StepCreateSandbox])
	require.Equal(t, proto.StepError, statuses[StepSetupSandbox])
}

func TestStream_ModelFailure(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	h.sb.sendErr = errors.New("upstream 500")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	require.Equal(t, []proto.StreamEventKind{proto.StreamSessionInit, proto.StreamError}, kinds(events))
	require.Contains(t, events[1].Error, StepModelCall)

	sessionID := events[0].SessionID
	msgs := h.sessions.Messages(sessionID)
	require.Len(t, msgs, 1)
	require.Equal(t, proto.User, msgs[0].Role)

	statuses := stepStatuses(h.recorder.Trail(sessionID))
	require.Equal(t, proto.StepError, statuses[StepModelCall])
	require.NotContains(t, statuses, StepExtractArtifacts)
}

func TestStream_RAG(t *testing.T) {
	t.Parallel()

	h := newHarness("Paris")
	o := h.orchestrator(fakeExtractor{}, WithRetriever(fakeRetriever{
		results: []proto.KnowledgeResult{{Source: "geo.md", Content: "The capital of France is Paris.", Score: 1}},
	}))

	events := collect(t, o.Stream(t.Context(), Request{Message: "Capital of France?", UseRAG: true, TopK: 2}))
	require.Equal(t, proto.StreamDone, events[len(events)-1].Kind)

	sent := h.sb.sent()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], "The capital of France is Paris.")
	require.Contains(t, sent[0], "Capital of France?")

	sessionID := events[0].SessionID
	msgs := h.sessions.Messages(sessionID)
	require.Equal(t, "Capital of France?", msgs[0].Content)

	trail := h.recorder.Trail(sessionID)
	require.Equal(t, StepRAGSearch, trail[2].Step)
	require.Equal(t, proto.StepSuccess, trail[2].Status)
	require.Contains(t, string(trail[2].Details), `"top_k":2`)
	require.Contains(t, string(trail[2].Details), `"results":1`)
}

func TestStream_RAGNoResults(t *testing.T) {
	t.Parallel()

	h := newHarness("I don't know")
	o := h.orchestrator(fakeExtractor{}, WithRetriever(fakeRetriever{}))

	events := collect(t, o.Stream(t.Context(), Request{Message: "anything", UseRAG: true}))
	require.Equal(t, proto.StreamDone, events[len(events)-1].Kind)
	require.Equal(t, []string{"anything"}, h.sb.sent())

	trail := h.recorder.Trail(events[0].SessionID)
	require.Equal(t, proto.StepSuccess, trail[2].Status)
	require.Contains(t, string(trail[2].Details), "no results")
	require.Contains(t, string(trail[2].Details), `"top_k":3`)
}

func TestStream_RAGFailureContinues(t *testing.T) {
	t.Parallel()

	h := newHarness("answer")
	o := h.orchestrator(fakeExtractor{}, WithRetriever(fakeRetriever{err: errors.New("index offline")}))

	events := collect(t, o.Stream(t.Context(), Request{Message: "question", UseRAG: true}))
	require.Equal(t, proto.StreamDone, events[len(events)-1].Kind)
	require.Equal(t, []string{"question"}, h.sb.sent())

	statuses := stepStatuses(h.recorder.Trail(events[0].SessionID))
	require.Equal(t, proto.StepError, statuses[StepRAGSearch])
	require.Equal(t, proto.StepSuccess, statuses[StepModelCall])
}

func TestStream_Artifacts(t *testing.T) {
	t.Parallel()

	h := newHarness("see file")
	o := h.orchestrator(fakeExtractor{count: 2})

	events := collect(t, o.Stream(t.Context(), Request{Message: "make a page"}))
	require.Len(t, events, 5)
	require.Equal(t, proto.StreamArtifacts, events[3].Kind)
	require.Equal(t, 2, events[3].Artifacts)
	require.Equal(t, proto.StreamDone, events[4].Kind)

	trail := h.recorder.Trail(events[0].SessionID)
	last := trail[len(trail)-1]
	require.Equal(t, StepExtractArtifacts, last.Step)
	require.Contains(t, string(last.Details), `"artifacts":2`)
}

func TestStream_EmptyReply(t *testing.T) {
	t.Parallel()

	h := newHarness("   ")
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	require.Equal(t, []proto.StreamEventKind{proto.StreamSessionInit, proto.StreamDone}, kinds(events))
}

func TestStream_CancelledDuringModelCall(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	h.sb.block = true
	o := h.orchestrator(fakeExtractor{})

	ctx, cancel := context.WithCancel(t.Context())
	events := o.Stream(ctx, Request{Message: "Hello"})
	start := <-events
	require.Equal(t, proto.StreamSessionInit, start.Kind)

	require.Eventually(t, func() bool { return len(h.sb.sent()) == 1 }, time.Second, time.Millisecond)
	cancel()
	for range events {
	}

	statuses := stepStatuses(h.recorder.Trail(start.SessionID))
	require.NotEqual(t, proto.StepRunning, statuses[StepModelCall])
	require.True(t, h.sb.isClosed())
}

func TestStream_CancelledWhileStreaming(t *testing.T) {
	t.Parallel()

	h := newHarness("one two three four five")
	o := h.orchestrator(fakeExtractor{}, WithChunkDelay(time.Hour))

	ctx, cancel := context.WithCancel(t.Context())
	events := o.Stream(ctx, Request{Message: "Hello"})
	start := <-events
	first := <-events
	require.Equal(t, "one ", first.Text)
	cancel()
	for ev := range events {
		require.NotEqual(t, proto.StreamDone, ev.Kind)
	}

	msgs := h.sessions.Messages(start.SessionID)
	require.Len(t, msgs, 2)
	require.Equal(t, "one", msgs[1].Content, "only the words sent before the disconnect are kept")
	for _, s := range h.recorder.Trail(start.SessionID) {
		require.NotEqual(t, proto.StepRunning, s.Status)
	}
}

func TestStream_SessionDeletedDuringModelCall(t *testing.T) {
	t.Parallel()

	h := newHarness("pong")
	h.sb.onSend = func() {
		if cur, ok := h.sessions.Current(); ok {
			h.sessions.Delete(cur.ID)
			h.recorder.Forget(cur.ID)
		}
	}
	o := h.orchestrator(fakeExtractor{})

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	require.Equal(t, []proto.StreamEventKind{proto.StreamSessionInit, proto.StreamChunk, proto.StreamError}, kinds(events))
	require.Contains(t, events[2].Error, ErrSessionNotFound.Error())
	require.Empty(t, h.recorder.Trail(events[0].SessionID))
	require.Zero(t, h.sessions.Len())
	require.True(t, h.sb.isClosed())
}

func TestStream_ModelTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	h.sb.block = true
	o := h.orchestrator(fakeExtractor{}, WithModelTimeout(10*time.Millisecond))

	events := collect(t, o.Stream(t.Context(), Request{Message: "Hello"}))
	last := events[len(events)-1]
	require.Equal(t, proto.StreamError, last.Kind)
	require.True(t, strings.Contains(last.Error, "deadline exceeded"))
}

func TestComplete(t *testing.T) {
	t.Parallel()

	h := newHarness("pong")
	o := h.orchestrator(fakeExtractor{})

	resp, err := o.Complete(t.Context(), "ping")
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Response)
	require.Equal(t, "sb-1", resp.SandboxID)
	require.Equal(t, "fake-model", resp.Model)
	require.Zero(t, h.sessions.Len())
	require.True(t, h.sb.isClosed())
}

func TestComplete_AcquisitionError(t *testing.T) {
	t.Parallel()

	h := newHarness("")
	h.svc.createErr = errors.New("no capacity")
	o := h.orchestrator(fakeExtractor{})

	_, err := o.Complete(t.Context(), "ping")
	require.Error(t, err)
	require.Equal(t, KindAcquisition, KindOf(err))
}
