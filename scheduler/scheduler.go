// Package scheduler multiplexes logically concurrent IMAP commands over
// one clientengine.Engine connection: it tags each enqueued command,
// tracks it from enqueue through its tagged completion, and trickles
// every untagged response through the active tasks until one absorbs it.
package scheduler

import (
	"fmt"

	imap "github.com/meszmate/imapengine"
	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/handle"
)

// Data is an untagged data response, decoded by the caller's grammar codec
// exactly as clientengine.Event.Data carries it.
type Data = interface{}

// Task is a polymorphic consumer of one command's response stream.
type Task interface {
	// Kind reports which of the three command shapes this task drives.
	Kind() clientengine.CommandKind
	// CommandBody renders the command to send; called once, at enqueue.
	CommandBody() clientengine.CommandBody

	// ProcessData consumes an untagged data response. Returning absorbed
	// == false forwards it to the next task (and eventually the caller,
	// as Unsolicited, if no task absorbs it).
	ProcessData(data Data) (forward Data, absorbed bool)
	// ProcessUntagged consumes an untagged status response.
	ProcessUntagged(status clientengine.Status) (forward clientengine.Status, absorbed bool)
	// ProcessContinuation consumes an unsolicited continuation request
	// (one not already claimed by a literal/authenticate/idle handshake).
	ProcessContinuation(text string) (forward string, absorbed bool)
	// ProcessBye consumes a BYE status.
	ProcessBye(status clientengine.Status) (forward clientengine.Status, absorbed bool)
	// ProcessTagged is terminal: it produces the task's typed output once
	// its own tag (or, for a rejected/aborted command, the matching BAD)
	// arrives.
	ProcessTagged(status clientengine.Status) interface{}
}

// AuthenticateResponder is implemented by Tasks of Kind
// clientengine.CommandAuthenticate; the scheduler calls NextData for each
// continuation the server sends, until done is true.
type AuthenticateResponder interface {
	NextData(serverContinuationText string) (data []byte, done bool)
}

// IdleController is implemented by Tasks of Kind clientengine.CommandIdle.
// OnAccepted fires once the server has accepted IDLE; the task (or its
// owner, via the handle returned from Enqueue) later calls
// Scheduler.SetIdleDone to terminate it.
type IdleController interface {
	OnAccepted()
}

// entry is the SchedulerEntry of spec §3: {handle, tag, task} once active,
// {handle, task} while waiting for CommandSent.
type entry struct {
	h    handle.Handle
	task Task
}

// Scheduler owns the waiting/active maps atop one clientengine.Engine.
type Scheduler struct {
	engine *clientengine.Engine

	waiting map[handle.Handle]*entry
	// active preserves enqueue order; trickle dispatch and iteration order
	// (spec §9) depend on this being append-order, not map order.
	active []*entry
}

// New creates a Scheduler driving engine.
func New(engine *clientengine.Engine) *Scheduler {
	return &Scheduler{engine: engine, waiting: make(map[handle.Handle]*entry)}
}

// Enqueue submits a task's command and returns its handle.
func (s *Scheduler) Enqueue(task Task) handle.Handle {
	h := s.engine.EnqueueCommand(clientengine.Command{Kind: task.Kind(), Body: task.CommandBody()})
	s.waiting[h] = &entry{h: h, task: task}
	return h
}

// EnqueueSTARTTLS submits task as the engine's STARTTLS barrier command: no
// further command may be enqueued until Reset is called once the tagged
// response for it has been consumed and the transport has been upgraded.
// It fails if another command is already in flight.
func (s *Scheduler) EnqueueSTARTTLS(task Task) (handle.Handle, bool) {
	h, ok := s.engine.BeginSTARTTLS(task.CommandBody())
	if !ok {
		return handle.Handle{}, false
	}
	s.waiting[h] = &entry{h: h, task: task}
	return h, true
}

// Reset rebuilds the underlying engine's receiver and lowers its STARTTLS
// barrier. Call it only after swapping in a transport reader built fresh
// around the upgraded connection.
func (s *Scheduler) Reset() {
	s.engine.Reset()
}

// Caps returns the engine's last-observed capability set.
func (s *Scheduler) Caps() *imap.CapSet {
	return s.engine.Caps()
}

// SetAuthenticateData forwards to the underlying engine for an active
// AuthenticateResponder task.
func (s *Scheduler) SetAuthenticateData(data []byte) (handle.Handle, bool) {
	return s.engine.SetAuthenticateData(data)
}

// SetIdleDone forwards to the underlying engine for an active idle task.
func (s *Scheduler) SetIdleDone() (handle.Handle, bool) {
	return s.engine.SetIdleDone()
}

// ResultKind discriminates the result of Next.
type ResultKind int

const (
	ResultNeedMoreInput ResultKind = iota
	ResultOutput
	ResultTaskFinished
	ResultUnsolicitedData
	ResultUnsolicitedStatus
	ResultUnsolicitedContinuation
	ResultFatal
)

// Result is the result of one Next call.
type Result struct {
	Kind   ResultKind
	Bytes  []byte
	Handle handle.Handle

	Output interface{} // valid for ResultTaskFinished; downcast via TaskHandle[T]

	Data             Data
	Status           clientengine.Status
	ContinuationText string

	Err error
}

func (s *Scheduler) findActive(h handle.Handle) (int, *entry) {
	for i, e := range s.active {
		if e.h == h {
			return i, e
		}
	}
	return -1, nil
}

func (s *Scheduler) removeActive(i int) {
	s.active = append(s.active[:i], s.active[i+1:]...)
}

// Next advances the engine and this scheduler by one step.
func (s *Scheduler) Next() Result {
	ev := s.engine.Next()

	switch ev.Kind {
	case clientengine.EventNeedMoreInput:
		return Result{Kind: ResultNeedMoreInput}
	case clientengine.EventOutput:
		return Result{Kind: ResultOutput, Bytes: ev.Bytes}

	case clientengine.EventCommandSent, clientengine.EventCommandAuthenticateStarted, clientengine.EventIdleCommandSent:
		if e, ok := s.waiting[ev.Handle]; ok {
			delete(s.waiting, ev.Handle)
			s.active = append(s.active, e)
		}
		return s.Next()

	case clientengine.EventDataReceived:
		return s.dispatchData(ev.Data)

	case clientengine.EventStatusReceived:
		if ev.Status.Type == imap.StatusResponseTypeBYE {
			return s.dispatchBye(ev.Status)
		}
		if ev.Status.Tag == "" {
			return s.dispatchUntagged(ev.Status)
		}
		if ev.Handle.Zero() {
			return Result{Kind: ResultFatal, Status: ev.Status,
				Err: fmt.Errorf("tagged response %q does not match any active task", ev.Status.Tag)}
		}
		return s.finishTagged(ev.Handle, ev.Status)

	case clientengine.EventCommandRejected, clientengine.EventAuthenticateStatusReceived, clientengine.EventIdleRejected:
		return s.finishTagged(ev.Handle, ev.Status)

	case clientengine.EventAuthenticateContinuationRequestReceived:
		return s.dispatchAuthenticateContinuation(ev.Handle, ev.ContinuationText)
	case clientengine.EventIdleAccepted:
		return s.dispatchIdleAccepted(ev.Handle)
	case clientengine.EventContinuationRequestReceived:
		return s.dispatchContinuation(ev.ContinuationText)

	default:
		return s.Next()
	}
}

func (s *Scheduler) dispatchData(d Data) Result {
	for _, e := range s.active {
		fwd, absorbed := e.task.ProcessData(d)
		if absorbed {
			return s.Next()
		}
		d = fwd
	}
	return Result{Kind: ResultUnsolicitedData, Data: d}
}

func (s *Scheduler) dispatchUntagged(status clientengine.Status) Result {
	for _, e := range s.active {
		if _, absorbed := e.task.ProcessUntagged(status); absorbed {
			return s.Next()
		}
	}
	return Result{Kind: ResultUnsolicitedStatus, Status: status}
}

func (s *Scheduler) dispatchBye(status clientengine.Status) Result {
	for _, e := range s.active {
		if _, absorbed := e.task.ProcessBye(status); absorbed {
			return s.Next()
		}
	}
	return Result{Kind: ResultUnsolicitedStatus, Status: status}
}

func (s *Scheduler) dispatchContinuation(text string) Result {
	for _, e := range s.active {
		if _, absorbed := e.task.ProcessContinuation(text); absorbed {
			return s.Next()
		}
	}
	return Result{Kind: ResultUnsolicitedContinuation, ContinuationText: text}
}

func (s *Scheduler) dispatchAuthenticateContinuation(h handle.Handle, text string) Result {
	_, e := s.findActive(h)
	if e == nil {
		return s.Next()
	}
	responder, ok := e.task.(AuthenticateResponder)
	if !ok {
		return s.Next()
	}
	data, _ := responder.NextData(text)
	s.engine.SetAuthenticateData(data)
	return s.Next()
}

func (s *Scheduler) dispatchIdleAccepted(h handle.Handle) Result {
	_, e := s.findActive(h)
	if e != nil {
		if ctrl, ok := e.task.(IdleController); ok {
			ctrl.OnAccepted()
		}
	}
	return s.Next()
}

func (s *Scheduler) finishTagged(h handle.Handle, status clientengine.Status) Result {
	i, e := s.findActive(h)
	if e == nil {
		return Result{Kind: ResultFatal, Status: status,
			Err: fmt.Errorf("tagged response %q does not match any active task", status.Tag)}
	}
	s.removeActive(i)
	out := e.task.ProcessTagged(status)
	return Result{Kind: ResultTaskFinished, Handle: h, Output: out}
}

// TaskHandle is a typed view of a handle returned from Enqueue, downcasting
// a ResultTaskFinished's opaque Output back to T.
type TaskHandle[T any] struct {
	H handle.Handle
}

// Output downcasts r.Output to T if r is this handle's TaskFinished result.
func (th TaskHandle[T]) Output(r Result) (T, bool) {
	var zero T
	if r.Kind != ResultTaskFinished || r.Handle != th.H {
		return zero, false
	}
	v, ok := r.Output.(T)
	return v, ok
}
