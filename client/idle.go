package client

import (
	"sync"

	"github.com/meszmate/imapengine/scheduler"
)

// idleTask wraps scheduler.IdleTask to additionally signal a channel the
// moment the server accepts IDLE, so Client.Idle can return as soon as
// idling has actually begun instead of waiting for it to end.
type idleTask struct {
	*scheduler.IdleTask
	accepted chan struct{}
	once     sync.Once
}

func newIdleTask() *idleTask {
	return &idleTask{IdleTask: scheduler.NewIdleTask(), accepted: make(chan struct{})}
}

func (t *idleTask) OnAccepted() {
	t.IdleTask.OnAccepted()
	t.once.Do(func() { close(t.accepted) })
}

var _ scheduler.IdleController = (*idleTask)(nil)

// IdleCommand represents an in-progress IDLE (RFC 2177). Call Done to end
// it and collect the tagged result.
type IdleCommand struct {
	client   *Client
	task     *idleTask
	resultCh chan scheduler.Result
	doneOnce sync.Once
	doneErr  error
}

// Idle sends IDLE and blocks until the server either accepts it (a
// continuation request) or finishes the command outright (typically a
// tagged BAD/NO rejecting it). On acceptance it returns an IdleCommand;
// the caller must eventually call Done on it to leave idle state.
func (c *Client) Idle() (*IdleCommand, error) {
	task := newIdleTask()
	resultCh := make(chan scheduler.Result, 1)
	sub := submission{task: task, resultCh: resultCh}

	select {
	case c.submitCh <- sub:
	case <-c.closed:
		return nil, ErrClosed
	}

	select {
	case <-task.accepted:
		return &IdleCommand{client: c, task: task, resultCh: resultCh}, nil
	case res := <-resultCh:
		if res.Kind == scheduler.ResultFatal {
			return nil, res.Err
		}
		return nil, resultErr(res, nil)
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Wait blocks until the idle period ends, whether because Done was called
// or the server terminated it unilaterally (e.g. with BYE).
func (ic *IdleCommand) Wait() error {
	return ic.await()
}

// Done ends the idle period by sending DONE and waits for the tagged
// response that follows. Safe to call more than once.
func (ic *IdleCommand) Done() error {
	ic.client.runOnLoop(func() {
		ic.client.sched.SetIdleDone()
	})
	return ic.await()
}

func (ic *IdleCommand) await() error {
	ic.doneOnce.Do(func() {
		select {
		case res := <-ic.resultCh:
			if res.Kind == scheduler.ResultFatal {
				ic.doneErr = res.Err
			} else {
				ic.doneErr = resultErr(res, nil)
			}
		case <-ic.client.closed:
			ic.doneErr = ErrClosed
		}
	})
	return ic.doneErr
}
