// Package pipeline runs one utterance through the full turn: normalize,
// classify, extract, resolve, validate, execute, learn and remember.
//
// Turns for the same user are serialized; turns for different users run in
// parallel. Nothing is written until the command has executed, so a turn
// cancelled earlier leaves no trace.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bytedance/sonic"

	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/commands"
	"github.com/bdobrica/kotoba/internal/kotoba/events"
	"github.com/bdobrica/kotoba/internal/kotoba/intents"
	"github.com/bdobrica/kotoba/internal/kotoba/learning"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
	"github.com/bdobrica/kotoba/internal/kotoba/nlp"
	"github.com/bdobrica/kotoba/internal/kotoba/shard"
	"github.com/bdobrica/kotoba/internal/kotoba/textnorm"
)

// ErrorKind classifies a failed turn.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindPreprocessingError ErrorKind = "PreprocessingError"
	KindNoIntentMatched    ErrorKind = "NoIntentMatched"
	KindInvalidParameters  ErrorKind = "InvalidParameters"
	KindCommandNotFound    ErrorKind = "CommandNotFound"
	KindExecutionFailure   ErrorKind = "ExecutionFailure"
	KindPersistenceError   ErrorKind = "PersistenceError"
	KindCancelled          ErrorKind = "Cancelled"
)

// DefaultRecentWindow is how many memory entries feed RecentIntents when a
// turn does not supply them.
const DefaultRecentWindow = 5

// Turn is one utterance to process.
type Turn struct {
	Text   string
	UserID string
	// RecentIntents, oldest first. Nil derives them from the user's memory;
	// a non-nil empty slice means no history.
	RecentIntents []string
	SessionTags   []string
}

// ExecutionResult is what Process returns. It never carries a Go error:
// failures are described by ErrorKind and Message.
type ExecutionResult struct {
	Success     bool                  `json:"success"`
	Result      any                   `json:"result,omitempty"`
	ErrorKind   ErrorKind             `json:"error_kind,omitempty"`
	Message     string                `json:"message,omitempty"`
	LatencyMS   int64                 `json:"latency_ms"`
	Recognition nlp.RecognitionResult `json:"recognition"`
	// Memories are the user's stored turns most relevant to this one.
	Memories []memory.Scored `json:"memories,omitempty"`
	// Suggestions are commands the user may have meant, set only when no
	// intent matched.
	Suggestions []string `json:"suggestions,omitempty"`
	// State is the last state the turn reached.
	State   State  `json:"state"`
	TraceID string `json:"trace_id"`
}

// TableSource supplies the current pattern table. *intents.Source
// implements it.
type TableSource interface {
	Table() *intents.Table
}

// Options wires an Engine. Source, Dispatcher, Learning and Memory are
// required.
type Options struct {
	Source     TableSource
	Recognizer *nlp.Recognizer
	Resolver   *nlp.Resolver
	Dispatcher *commands.Dispatcher
	Learning   *learning.Store
	Memory     *memory.Manager
	Events     events.Publisher
	Logger     *slog.Logger
	// RecentWindow bounds RecentIntents derived from memory.
	RecentWindow int
	// WakeWords are stripped from the utterance before normalization.
	WakeWords []string
}

var _ nlp.Aliases = (*commands.Registry)(nil)

// Engine processes turns.
type Engine struct {
	source       TableSource
	recognizer   *nlp.Recognizer
	resolver     nlp.Resolver
	dispatcher   *commands.Dispatcher
	learning     *learning.Store
	memory       *memory.Manager
	events       events.Publisher
	logger       *slog.Logger
	recentWindow int
	wakeWords    []string
	locks        *shard.Keyed
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	var errs []error
	if opts.Source == nil {
		errs = append(errs, errors.New("pipeline: Source is required"))
	}
	if opts.Dispatcher == nil {
		errs = append(errs, errors.New("pipeline: Dispatcher is required"))
	}
	if opts.Learning == nil {
		errs = append(errs, errors.New("pipeline: Learning is required"))
	}
	if opts.Memory == nil {
		errs = append(errs, errors.New("pipeline: Memory is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	e := &Engine{
		source:       opts.Source,
		recognizer:   opts.Recognizer,
		resolver:     nlp.DefaultResolver(),
		dispatcher:   opts.Dispatcher,
		learning:     opts.Learning,
		memory:       opts.Memory,
		events:       opts.Events,
		logger:       opts.Logger,
		recentWindow: opts.RecentWindow,
		wakeWords:    slices.Clone(opts.WakeWords),
		locks:        shard.NewKeyed(),
	}
	if opts.Resolver != nil {
		e.resolver = *opts.Resolver
	}
	if e.recognizer == nil {
		e.recognizer = nlp.NewRecognizer(
			nlp.WithLogger(opts.Logger),
			nlp.WithAliases(opts.Dispatcher.Registry()),
		)
	}
	if e.events == nil {
		e.events = events.Noop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.recentWindow <= 0 {
		e.recentWindow = DefaultRecentWindow
	}
	return e, nil
}

// turn carries one Process call's working state.
type turn struct {
	in      Turn
	traceID string
	start   time.Time
	log     *slog.Logger
	m       machine
	res     ExecutionResult
}

func (t *turn) finish(success bool, kind ErrorKind, msg string) ExecutionResult {
	t.res.Success = success
	t.res.ErrorKind = kind
	t.res.Message = msg
	t.res.State = t.m.state
	t.res.LatencyMS = time.Since(t.start).Milliseconds()
	t.res.TraceID = t.traceID
	return t.res
}

// Process runs one turn to completion. It never panics across its
// boundary and never returns an error; see ExecutionResult.
func (e *Engine) Process(ctx context.Context, in Turn) (out ExecutionResult) {
	ctx, traceID := trace.Ensure(ctx)
	t := &turn{
		in:      in,
		traceID: traceID,
		start:   time.Now(),
		log:     trace.Logger(ctx, e.logger).With("user", in.UserID),
	}
	t.m = machine{state: Received, logger: t.log}
	t.res.Recognition = nlp.RecognitionResult{Intent: intents.Unknown, Provenance: nlp.Heuristic}

	defer func() {
		if r := recover(); r != nil {
			t.log.Error("pipeline panicked", "panic", r, "state", t.m.state)
			out = t.finish(false, KindExecutionFailure, fmt.Sprintf("internal error: %v", r))
			e.publishEnd(t, out)
		}
	}()

	e.events.Publish(events.Event{
		Kind:    events.KindTurnStarted,
		TraceID: traceID,
		UserID:  in.UserID,
		TextLen: len(in.Text),
	})

	defer e.locks.Lock(in.UserID)()

	out = e.run(ctx, t)
	e.publishEnd(t, out)
	t.log.Info("turn processed",
		"intent", out.Recognition.Intent,
		"confidence", out.Recognition.Confidence,
		"provenance", out.Recognition.Provenance,
		"success", out.Success,
		"error_kind", out.ErrorKind,
		"state", out.State,
		"latency_ms", out.LatencyMS,
	)
	return out
}

func (e *Engine) run(ctx context.Context, t *turn) ExecutionResult {
	if err := ctx.Err(); err != nil {
		return t.finish(false, KindCancelled, err.Error())
	}

	// Preprocess. Malformed input falls back to the empty string.
	raw, perr := textnorm.Sanitize(t.in.Text)
	if perr != nil {
		t.log.Warn("preprocessing failed, using empty input", "err", perr, "text_len", len(t.in.Text))
	}
	raw = textnorm.StripWakeWords(raw, e.wakeWords)
	text := textnorm.Normalize(raw)
	t.m.advance(Preprocessed)

	table := e.source.Table()
	cctx := nlp.Context{
		UserID:        t.in.UserID,
		RecentIntents: t.in.RecentIntents,
		SessionTags:   t.in.SessionTags,
	}
	if cctx.RecentIntents == nil {
		recent, err := e.memory.RecentIntents(ctx, t.in.UserID, e.recentWindow)
		if err != nil {
			t.log.Warn("could not load recent intents", "kind", KindPersistenceError, "err", err)
		}
		cctx.RecentIntents = recent
	}

	rec := e.recognizer.Score(ctx, table, text, cctx)
	t.m.advance(IntentScored)

	rec.Entities = nlp.Extract(raw, rec.Slots)
	t.m.advance(EntitiesExtracted)

	var rate float64
	if rec.Intent != intents.Unknown {
		r, err := e.learning.SuccessRate(ctx, t.in.UserID, rec.Intent)
		if err != nil {
			t.log.Warn("could not load learning profile", "kind", KindPersistenceError, "err", err)
		}
		rate = r
	}
	var rel nlp.Relations
	if table != nil {
		rel = table
	}
	rec = e.resolver.Resolve(rec, cctx, rel, rate)
	t.m.advance(AmbiguityResolved)
	t.res.Recognition = rec

	if mems, err := e.memory.Retrieve(ctx, t.in.UserID, text); err != nil {
		t.log.Warn("could not retrieve memories", "kind", KindPersistenceError, "err", err)
	} else {
		t.res.Memories = mems
	}

	e.events.Publish(events.Event{
		Kind:       events.KindTurnResolved,
		TraceID:    t.traceID,
		UserID:     t.in.UserID,
		Intent:     rec.Intent,
		Confidence: rec.Confidence,
		Provenance: string(rec.Provenance),
	})

	if err := ctx.Err(); err != nil {
		return t.finish(false, KindCancelled, err.Error())
	}

	// Validate.
	t.m.advance(Validated)
	if rec.Intent == intents.Unknown {
		t.m.advance(Failed)
		if perr != nil {
			return t.finish(false, KindPreprocessingError, perr.Error())
		}
		t.res.Suggestions = suggest(table, text, cctx.RecentIntents)
		return t.finish(false, KindNoIntentMatched, "no intent matched")
	}
	call := commands.Call{
		UserID:  t.in.UserID,
		Intent:  rec.Intent,
		Params:  rec.Params(),
		Text:    text,
		TraceID: t.traceID,
	}
	cmd, err := e.dispatcher.Check(ctx, call)
	if err != nil {
		t.m.advance(Failed)
		return t.finish(false, kindOf(err), err.Error())
	}

	if err := ctx.Err(); err != nil {
		return t.finish(false, KindCancelled, err.Error())
	}

	// Execute. From here on the turn counts, so side effects use a context
	// the caller can no longer cancel.
	outcome, execErr := e.dispatcher.Execute(ctx, cmd, call)
	t.m.advance(Executed)
	t.res.Result = outcome.Result
	wctx := context.WithoutCancel(ctx)

	if err := e.learning.Record(wctx, t.in.UserID, rec.Intent, rec.Template, execErr == nil); err != nil {
		t.log.Warn("learning update failed", "kind", KindPersistenceError, "err", err)
	}

	if execErr != nil {
		t.m.advance(Failed)
		return t.finish(false, kindOf(execErr), execErr.Error())
	}
	t.m.advance(Learned)

	e.remember(wctx, t, raw, rec, outcome.Result)
	t.m.advance(Done)
	return t.finish(true, KindNone, "")
}

// remember stores the executed turn in the user's memory.
func (e *Engine) remember(ctx context.Context, t *turn, raw string, rec nlp.RecognitionResult, result any) {
	response := ""
	if result != nil {
		s, err := sonic.MarshalString(result)
		if err != nil {
			s = fmt.Sprint(result)
		}
		response = s
	}
	_, err := e.memory.Add(ctx, t.in.UserID, memory.Record{
		Message:    raw,
		Response:   response,
		Confidence: rec.Confidence,
		Tags:       []string{memory.IntentTag(rec.Intent)},
	})
	if err != nil {
		t.log.Warn("memory write failed", "kind", KindPersistenceError, "err", err)
	}
}

func (e *Engine) publishEnd(t *turn, out ExecutionResult) {
	kind := events.KindTurnExecuted
	if !out.Success {
		kind = events.KindTurnFailed
	}
	e.events.Publish(events.Event{
		Kind:       kind,
		TraceID:    t.traceID,
		UserID:     t.in.UserID,
		Intent:     out.Recognition.Intent,
		Confidence: out.Recognition.Confidence,
		Provenance: string(out.Recognition.Provenance),
		Success:    out.Success,
		ErrorKind:  string(out.ErrorKind),
		Message:    out.Message,
		LatencyMS:  out.LatencyMS,
	})
}

// kindOf maps a dispatcher error to its ErrorKind.
func kindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, commands.ErrCommandNotFound):
		return KindCommandNotFound
	case errors.Is(err, commands.ErrInvalidParameters):
		return KindInvalidParameters
	default:
		return KindExecutionFailure
	}
}
