// Package chat runs streamed chat requests: it resolves the session, talks
// to a sandbox, extracts artifacts from the reply and emits the result as a
// sequence of stream events.
package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tejjnayak/sandchat/internal/audit"
	"github.com/tejjnayak/sandchat/internal/prompt"
	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/sandbox"
	"github.com/tejjnayak/sandchat/internal/session"
)

// Audit step names.
const (
	StepCreateSandbox    = "create_sandbox"
	StepSetupSandbox     = "setup_sandbox"
	StepRAGSearch        = "rag_search"
	StepModelCall        = "minimax_api"
	StepExtractArtifacts = "extract_artifacts"
)

const (
	DefaultChunkDelay = 20 * time.Millisecond
	DefaultTopK       = 3

	queryPreviewLength = 100
)

// Retriever finds knowledge relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]proto.KnowledgeResult, error)
}

// Extractor moves embedded artifacts out of reply text.
type Extractor interface {
	Extract(text string) (string, int)
}

type Request struct {
	Message   string
	SessionID string
	Model     string
	UseRAG    bool
	TopK      int
}

// FromProto converts a stream request received over the wire.
func FromProto(r proto.StreamChatRequest) Request {
	return Request{
		Message:   r.Message,
		SessionID: r.SessionID,
		Model:     r.Model,
		UseRAG:    r.UseRAG,
		TopK:      r.TopK,
	}
}

type Orchestrator struct {
	sessions     session.Store
	recorder     *audit.Recorder
	sandboxes    sandbox.Service
	extractor    Extractor
	retriever    Retriever
	chunkDelay   time.Duration
	modelTimeout time.Duration
	defaultModel string
	defaultTopK  int
}

type Option func(*Orchestrator)

func WithRetriever(r Retriever) Option {
	return func(o *Orchestrator) {
		o.retriever = r
	}
}

// WithChunkDelay sets the pause between streamed words.
func WithChunkDelay(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.chunkDelay = d
	}
}

// WithModelTimeout bounds each model call. Zero means no bound.
func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.modelTimeout = d
	}
}

func WithDefaultModel(model string) Option {
	return func(o *Orchestrator) {
		o.defaultModel = model
	}
}

func WithDefaultTopK(k int) Option {
	return func(o *Orchestrator) {
		o.defaultTopK = k
	}
}

func New(sessions session.Store, recorder *audit.Recorder, sandboxes sandbox.Service, extractor Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:     sessions,
		recorder:     recorder,
		sandboxes:    sandboxes,
		extractor:    extractor,
		chunkDelay:   DefaultChunkDelay,
		defaultModel: proto.DefaultModel,
		defaultTopK:  DefaultTopK,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream runs req and returns its events. The channel is closed after the
// terminal event, or as soon as ctx is done.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan proto.StreamEvent {
	events := make(chan proto.StreamEvent, 16)
	r := &run{
		o:      o,
		ctx:    ctx,
		req:    req,
		state:  StateInit,
		events: events,
	}
	go func() {
		defer close(events)
		defer r.recover()
		r.execute()
	}()
	return events
}

// Complete sends a single message to a fresh sandbox without touching any
// session.
func (o *Orchestrator) Complete(ctx context.Context, message string) (proto.ChatResponse, error) {
	sb, err := o.sandboxes.Create(ctx)
	if err != nil {
		return proto.ChatResponse{}, stageError(KindAcquisition, StepCreateSandbox, err)
	}
	defer closeSandbox(sb)

	if err := sb.Setup(ctx); err != nil {
		return proto.ChatResponse{}, stageError(KindAcquisition, StepSetupSandbox, err)
	}
	reply, err := o.send(ctx, sb, message)
	if err != nil {
		return proto.ChatResponse{}, stageError(KindUnclassified, StepModelCall, err)
	}
	return proto.ChatResponse{
		Response:  reply,
		SandboxID: sb.ID(),
		Model:     o.sandboxes.Model(),
	}, nil
}

func (o *Orchestrator) send(ctx context.Context, sb sandbox.Sandbox, text string) (string, error) {
	if o.modelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.modelTimeout)
		defer cancel()
	}
	return sb.Send(ctx, text)
}

func closeSandbox(sb sandbox.Sandbox) {
	if err := sb.Close(); err != nil {
		slog.Warn("Failed to close sandbox", "sandbox_id", sb.ID(), "error", err)
	}
}

// run is the state of one streamed request.
type run struct {
	o      *Orchestrator
	ctx    context.Context
	req    Request
	state  State
	events chan<- proto.StreamEvent

	sessionID string
	scope     *audit.Scope
}

func (r *run) transition(to State) error {
	if err := ValidateTransition(r.state, to); err != nil {
		return err
	}
	slog.Debug("Chat state", "session_id", r.sessionID, "from", r.state, "to", to)
	r.state = to
	return nil
}

// emit delivers ev unless the request context is done first.
func (r *run) emit(ev proto.StreamEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) execute() {
	sess := r.o.sessions.GetOrCreate(r.req.SessionID, cmp.Or(r.req.Model, r.o.defaultModel))
	r.sessionID = sess.ID
	r.scope = r.o.recorder.Scope(sess.ID)
	if err := r.transition(StateSessionResolved); err != nil {
		r.fail(err)
		return
	}
	if !r.emit(proto.SessionInitEvent(sess.ID)) {
		r.cancel()
		return
	}

	sb, err := r.acquire()
	if err != nil {
		r.fail(err)
		return
	}
	defer closeSandbox(sb)
	if err := r.transition(StateSandboxAcquired); err != nil {
		r.fail(err)
		return
	}

	if _, ok := r.o.sessions.AddMessage(sess.ID, proto.User, r.req.Message); !ok {
		r.fail(stageError(KindResolution, "append_message", ErrSessionNotFound))
		return
	}

	text := r.req.Message
	if r.req.UseRAG {
		augmented, err := r.augment(text)
		switch {
		case err == nil:
			text = augmented
		case fatal(err):
			r.fail(err)
			return
		default:
			slog.Warn("Continuing without retrieved context", "session_id", r.sessionID, "error", err)
		}
		if err := r.transition(StateRAGAugmented); err != nil {
			r.fail(err)
			return
		}
	}

	reply, err := r.callModel(sb, text)
	if err != nil {
		r.fail(err)
		return
	}
	if err := r.transition(StateReplyReceived); err != nil {
		r.fail(err)
		return
	}

	reply, count := r.extract(reply)
	if err := r.transition(StateArtifactsExtracted); err != nil {
		r.fail(err)
		return
	}

	if err := r.transition(StateStreaming); err != nil {
		r.fail(err)
		return
	}
	words := strings.Fields(reply)
	sent := r.streamWords(words)
	streamed := sent == len(words)
	if !streamed {
		reply = strings.Join(words[:sent], " ")
	}
	if _, ok := r.o.sessions.AddMessage(sess.ID, proto.Assistant, reply); !ok {
		r.fail(stageError(KindResolution, "append_message", ErrSessionNotFound))
		return
	}
	if !streamed {
		r.cancel()
		return
	}

	if count > 0 && !r.emit(proto.ArtifactsEvent(count)) {
		r.cancel()
		return
	}
	if !r.emit(proto.DoneEvent()) {
		r.cancel()
		return
	}
	if err := r.transition(StateDone); err != nil {
		slog.Error("Chat finished in unexpected state", "session_id", r.sessionID, "error", err)
	}
}

// acquire creates and sets up a sandbox, recording both steps.
func (r *run) acquire() (sandbox.Sandbox, error) {
	r.scope.Start(StepCreateSandbox, nil)
	sb, err := r.o.sandboxes.Create(r.ctx)
	if err != nil {
		r.scope.End(StepCreateSandbox, proto.StepError, err.Error())
		return nil, stageError(KindAcquisition, StepCreateSandbox, err)
	}
	r.scope.End(StepCreateSandbox, proto.StepSuccess, "")
	slog.Info("Sandbox created", "session_id", r.sessionID, "sandbox_id", sb.ID())

	r.scope.Start(StepSetupSandbox, map[string]any{"sandbox_id": sb.ID()})
	if err := sb.Setup(r.ctx); err != nil {
		r.scope.End(StepSetupSandbox, proto.StepError, err.Error())
		closeSandbox(sb)
		return nil, stageError(KindAcquisition, StepSetupSandbox, err)
	}
	r.scope.End(StepSetupSandbox, proto.StepSuccess, "")
	return sb, nil
}

// augment returns message with retrieved context embedded. Retrieval
// problems are recorded on the step and returned as augmentation errors.
func (r *run) augment(message string) (string, error) {
	topK := r.req.TopK
	if topK <= 0 {
		topK = r.o.defaultTopK
	}
	r.scope.Start(StepRAGSearch, map[string]any{
		"query": prompt.Truncate(message, queryPreviewLength),
		"top_k": topK,
	})

	fail := func(err error) (string, error) {
		r.scope.End(StepRAGSearch, proto.StepError, err.Error())
		return "", stageError(KindAugmentation, StepRAGSearch, err)
	}

	if r.o.retriever == nil {
		return fail(errors.New("knowledge retrieval is not configured"))
	}
	results, err := r.o.retriever.Search(r.ctx, message, topK)
	if err != nil {
		return fail(err)
	}
	if len(results) == 0 {
		r.scope.Annotate(StepRAGSearch, "note", "no results")
		r.scope.End(StepRAGSearch, proto.StepSuccess, "")
		return message, nil
	}

	docs := make([]prompt.Document, len(results))
	sources := make([]string, len(results))
	for i, res := range results {
		docs[i] = prompt.Document{Source: res.Source, Content: res.Content}
		sources[i] = res.Source
	}
	augmented, err := prompt.Augment(message, docs)
	if err != nil {
		return fail(err)
	}
	r.scope.Annotate(StepRAGSearch, "results", len(results))
	r.scope.Annotate(StepRAGSearch, "sources", sources)
	r.scope.End(StepRAGSearch, proto.StepSuccess, "")
	return augmented, nil
}

func (r *run) callModel(sb sandbox.Sandbox, text string) (string, error) {
	r.scope.Start(StepModelCall, map[string]any{
		"model":        r.o.sandboxes.Model(),
		"prompt_chars": len([]rune(text)),
	})
	reply, err := r.o.send(r.ctx, sb, text)
	if err != nil {
		r.scope.End(StepModelCall, proto.StepError, err.Error())
		return "", stageError(KindUnclassified, StepModelCall, err)
	}
	r.scope.Annotate(StepModelCall, "reply_chars", len([]rune(reply)))
	r.scope.End(StepModelCall, proto.StepSuccess, "")
	return reply, nil
}

func (r *run) extract(reply string) (string, int) {
	r.scope.Start(StepExtractArtifacts, nil)
	text, count := r.o.extractor.Extract(reply)
	r.scope.Annotate(StepExtractArtifacts, "artifacts", count)
	r.scope.End(StepExtractArtifacts, proto.StepSuccess, "")
	return text, count
}

// streamWords emits one chunk per word and returns how many went out before
// the request was cancelled.
func (r *run) streamWords(words []string) int {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for i, word := range words {
		if i > 0 && r.o.chunkDelay > 0 {
			if timer == nil {
				timer = time.NewTimer(r.o.chunkDelay)
			} else {
				timer.Reset(r.o.chunkDelay)
			}
			select {
			case <-timer.C:
			case <-r.ctx.Done():
				return i
			}
		}
		if !r.emit(proto.ChunkEvent(word+" ", r.sessionID, i == 0)) {
			return i
		}
	}
	return len(words)
}

// fail ends the request with a single error event.
func (r *run) fail(err error) {
	slog.Error("Chat request failed", "session_id", r.sessionID, "kind", KindOf(err), "error", err)
	if r.scope != nil {
		r.scope.Abort(err.Error())
	}
	if r.state.Terminal() {
		slog.Error("Chat failed after finishing", "session_id", r.sessionID, "state", r.state)
		return
	}
	if terr := r.transition(StateError); terr != nil {
		slog.Error("Chat failed in unexpected state", "session_id", r.sessionID, "error", terr)
	}
	r.emit(proto.ErrorEvent(err.Error()))
}

// cancel ends a request whose client went away.
func (r *run) cancel() {
	reason := context.Cause(r.ctx)
	if reason == nil {
		reason = context.Canceled
	}
	slog.Info("Chat request cancelled", "session_id", r.sessionID, "state", r.state, "reason", reason)
	r.scope.Abort(reason.Error())
	if !r.state.Terminal() {
		_ = r.transition(StateError)
	}
}

func (r *run) recover() {
	rec := recover()
	if rec == nil {
		return
	}
	r.fail(stageError(KindUnclassified, string(r.state), fmt.Errorf("panic: %v", rec)))
}
