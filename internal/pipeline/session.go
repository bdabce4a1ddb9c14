package pipeline

import (
	"context"
	"sync"

	"jarvis-shell/internal/cache"
	"jarvis-shell/internal/executor"
	"jarvis-shell/internal/logger"
	"jarvis-shell/internal/profile"
	"jarvis-shell/internal/safety"
)

// EventType tags an Event.
type EventType int

const (
	EventResolved EventType = iota
	EventConfirm
	EventOutput
	EventDone
	EventUnresolved
	EventExit
	EventCancelled
)

func (t EventType) String() string {
	return [...]string{"resolved", "confirm", "output", "done", "unresolved", "exit", "cancelled"}[t]
}

// Event is one step of a submitted request, in delivery order:
// Resolved, then Output lines, then Done; or a single Unresolved, Exit or Cancelled.
// A Resolved command that needs approval is followed by Confirm instead of output.
type Event struct {
	Type       EventType
	Generation uint64
	Request    Request

	Command string       // Resolved, Confirm
	Source  cache.Source // Resolved
	Reason  string       // Confirm

	Line     executor.Line    // Output
	ExitCode int              // Done
	Result   *executor.Result // Done

	Err *ResolutionError // Unresolved, Cancelled
}

// Runner executes native commands.
type Runner interface {
	Stream(ctx context.Context, command string, sink func(executor.Line)) *executor.Result
	SetProfile(p *profile.Profile)
}

// Session serializes one user's requests. Each Submit supersedes the previous
// one: its context is cancelled and any late result is dropped.
type Session struct {
	pipeline *Pipeline
	runner   Runner

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	checkers map[*profile.Profile]*safety.Checker
}

// NewSession binds a pipeline to a runner.
func NewSession(pl *Pipeline, r Runner) *Session {
	return &Session{
		pipeline: pl,
		runner:   r,
		checkers: make(map[*profile.Profile]*safety.Checker),
	}
}

// Pipeline returns the session's pipeline.
func (s *Session) Pipeline() *Pipeline { return s.pipeline }

// SetProfile switches the active profile for resolution and execution.
func (s *Session) SetProfile(p *profile.Profile) {
	s.Cancel()
	s.pipeline.SetProfile(p)
	s.runner.SetProfile(p)
}

// Generation returns the number of the latest request.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Cancel abandons the in-flight request, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) begin(ctx context.Context) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	ctx, s.cancel = context.WithCancel(ctx)
	return ctx, s.gen
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// Submit resolves text and, when allowed, runs the command. The returned
// channel is closed after the last event.
func (s *Session) Submit(ctx context.Context, text string) <-chan Event {
	ctx, gen := s.begin(ctx)
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		st := &stream{ch: ch, ctx: ctx, gen: gen}

		out, err := s.pipeline.Resolve(ctx, text)
		st.req = out.Request
		if !s.current(gen) {
			logger.Debug("dropping stale result for request %s", out.Request.ID)
			st.cancelled()
			return
		}

		switch out.State {
		case Exit:
			st.send(Event{Type: EventExit})
			return
		case Unresolved:
			re, _ := err.(*ResolutionError)
			if re == nil {
				re = &ResolutionError{Kind: NotUnderstood, Message: msgNotUnderstood, Err: err}
			}
			if re.Kind == Cancelled {
				st.cancelled()
				return
			}
			st.send(Event{Type: EventUnresolved, Err: re})
			return
		}

		cmd := out.Result.Command
		if !st.send(Event{Type: EventResolved, Command: cmd, Source: out.Result.Source}) {
			return
		}

		a, err := s.assess(cmd)
		if err != nil {
			st.send(Event{Type: EventUnresolved, Err: &ResolutionError{Kind: Unsafe, Message: unsafeMessage(cmd), Candidate: cmd, Err: err}})
			return
		}
		switch a.Level {
		case safety.Blocked:
			st.send(Event{Type: EventUnresolved, Err: &ResolutionError{Kind: Unsafe, Message: a.Reason, Candidate: cmd}})
			return
		case safety.NeedsConfirm:
			st.send(Event{Type: EventConfirm, Command: cmd, Reason: a.Reason})
			return
		}

		s.run(st, cmd)
	}()
	return ch
}

// Execute runs an already resolved command, typically after the user confirmed it.
func (s *Session) Execute(ctx context.Context, command string) <-chan Event {
	ctx, gen := s.begin(ctx)
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		s.run(&stream{ch: ch, ctx: ctx, gen: gen}, command)
	}()
	return ch
}

func (s *Session) run(st *stream, cmd string) {
	if st.ctx.Err() != nil || !s.current(st.gen) {
		st.cancelled()
		return
	}
	res := s.runner.Stream(st.ctx, cmd, func(l executor.Line) {
		st.send(Event{Type: EventOutput, Line: l})
	})
	if st.ctx.Err() != nil || !s.current(st.gen) {
		st.cancelled()
		return
	}
	st.send(Event{Type: EventDone, ExitCode: res.ExitCode, Result: res})
}

func (s *Session) assess(cmd string) (*safety.Assessment, error) {
	p := s.pipeline.Profile()
	s.mu.Lock()
	c, ok := s.checkers[p]
	s.mu.Unlock()
	if !ok {
		var err error
		if c, err = safety.NewChecker(p); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.checkers[p] = c
		s.mu.Unlock()
	}
	return c.Check(cmd), nil
}

// stream delivers events for one generation.
type stream struct {
	ch  chan<- Event
	ctx context.Context
	gen uint64
	req Request
}

// send delivers ev unless the request was abandoned first.
func (st *stream) send(ev Event) bool {
	ev.Generation = st.gen
	ev.Request = st.req
	select {
	case st.ch <- ev:
		return true
	case <-st.ctx.Done():
		return false
	}
}

// cancelled reports cancellation without blocking on a reader that has moved on.
func (st *stream) cancelled() {
	select {
	case st.ch <- Event{Type: EventCancelled, Generation: st.gen, Request: st.req,
		Err: &ResolutionError{Kind: Cancelled, Message: "Request cancelled."}}:
	default:
	}
}
