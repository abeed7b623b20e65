package serverengine

import (
	"strings"
	"testing"

	"github.com/meszmate/imapengine/handle"
)

func fakeCommandDecoder() Decoder {
	return DecoderFunc(func(msg []byte) (interface{}, error) {
		s := strings.TrimRight(string(msg), "\r\n")
		fields := strings.SplitN(s, " ", 3)
		if len(fields) < 2 {
			return nil, errNotDone
		}
		tag := fields[0]
		switch fields[1] {
		case "NOOP", "LOGIN":
			return DecodedCommand{Kind: CommandRegular, Tag: tag, Body: s}, nil
		case "AUTHENTICATE":
			mech := ""
			if len(fields) == 3 {
				mech = fields[2]
			}
			return DecodedCommand{Kind: CommandAuthenticate, Tag: tag, Mechanism: mech}, nil
		case "IDLE":
			return DecodedCommand{Kind: CommandIdle, Tag: tag}, nil
		}
		return nil, errNotDone
	})
}

func fakeAuthDataDecoder() Decoder {
	return DecoderFunc(func(msg []byte) (interface{}, error) {
		s := strings.TrimRight(string(msg), "\r\n")
		if s == "*" {
			return AuthenticateData{Cancel: true}, nil
		}
		return AuthenticateData{Data: []byte(s)}, nil
	})
}

func newTestEngine(opts Options) *Engine {
	return New(handle.NewGenerator(), []byte("* OK ready\r\n"), fakeCommandDecoder(), fakeAuthDataDecoder(), opts)
}

func driveOutput(t *testing.T, e *Engine) string {
	t.Helper()
	var out []byte
	for {
		ev := e.Next()
		if ev.Kind != EventOutput {
			return string(out)
		}
		out = append(out, ev.Bytes...)
	}
}

func TestGreetingSentAtConstruction(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	greeting := driveOutput(t, e)
	if greeting != "* OK ready\r\n" {
		t.Fatalf("greeting = %q", greeting)
	}
}

func TestNoopCommandReceived(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	driveOutput(t, e)

	e.Push([]byte("A1 NOOP\r\n"))
	ev := e.Next()
	if ev.Kind != EventCommandReceived || ev.Tag != "A1" {
		t.Fatalf("ev = %+v, want EventCommandReceived A1", ev)
	}

	e.EnqueueStatus([]byte("A1 OK done\r\n"))
	out := driveOutput(t, e)
	if out != "A1 OK done\r\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestSyncLiteralAccepted(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLiteralSize = 100
	e := newTestEngine(opts)
	driveOutput(t, e)

	e.Push([]byte("A1 LOGIN {3}\r\n"))
	out := driveOutput(t, e)
	if out != "+ OK\r\n" {
		t.Fatalf("out = %q, want literal accept continuation", out)
	}

	e.Push([]byte("bob {4}\r\n"))
	out = driveOutput(t, e)
	if out != "+ OK\r\n" {
		t.Fatalf("second literal accept = %q", out)
	}

	e.Push([]byte("pass\r\n"))
	ev := e.Next()
	if ev.Kind != EventCommandReceived || ev.Tag != "A1" {
		t.Fatalf("ev = %+v", ev)
	}
}

func TestSyncLiteralRejectedOverCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLiteralSize = 2
	e := newTestEngine(opts)
	driveOutput(t, e)

	e.Push([]byte("A1 LOGIN {3}\r\n"))
	ev := e.Next()
	if ev.Kind != EventLiteralTooLong || ev.Tag != "A1" {
		t.Fatalf("ev = %+v, want EventLiteralTooLong", ev)
	}
	out := driveOutput(t, e)
	if out != "A1 NO literal too long\r\n" {
		t.Fatalf("out = %q", out)
	}

	// The parser has skipped past the announcement; the next command
	// parses normally without waiting for the (never sent) literal bytes.
	e.Push([]byte("A2 NOOP\r\n"))
	ev = e.Next()
	if ev.Kind != EventCommandReceived || ev.Tag != "A2" {
		t.Fatalf("ev = %+v, want EventCommandReceived A2 after skip", ev)
	}
}

func TestTinyLiteralCapRejectsOversizedLiteral(t *testing.T) {
	// MaxLiteralSize == 0 means unbounded per the Options contract, so a
	// cap of 1 is used here to exercise "any literal over the cap rejected".
	opts := DefaultOptions()
	opts.MaxLiteralSize = 1
	e := newTestEngine(opts)
	driveOutput(t, e)

	e.Push([]byte("A1 LOGIN {2}\r\n"))
	ev := e.Next()
	if ev.Kind != EventLiteralTooLong {
		t.Fatalf("ev = %+v, want EventLiteralTooLong for a 2-byte literal over a 1-byte cap", ev)
	}
}

func TestCommandTooLong(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxCommandSize = 5
	e := newTestEngine(opts)
	driveOutput(t, e)

	e.Push([]byte("A1 NOOP\r\n"))
	ev := e.Next()
	if ev.Kind != EventCommandTooLong || ev.Tag != "A1" {
		t.Fatalf("ev = %+v, want EventCommandTooLong", ev)
	}
	out := driveOutput(t, e)
	if out != "A1 BAD command too long\r\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestAuthenticateExchange(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	driveOutput(t, e)

	e.Push([]byte("A1 AUTHENTICATE PLAIN\r\n"))
	ev := e.Next()
	if ev.Kind != EventCommandAuthenticateReceived || ev.Tag != "A1" {
		t.Fatalf("ev = %+v", ev)
	}
	h := ev.Handle

	if !e.AuthenticateContinue(h, []byte("+ \r\n")) {
		t.Fatal("AuthenticateContinue should succeed")
	}
	out := driveOutput(t, e)
	if out != "+ \r\n" {
		t.Fatalf("out = %q", out)
	}

	e.Push([]byte("dGVzdA==\r\n"))
	ev = e.Next()
	if ev.Kind != EventAuthenticateDataReceived || ev.Handle != h {
		t.Fatalf("ev = %+v", ev)
	}
	if string(ev.Auth.Data) != "dGVzdA==" {
		t.Errorf("auth data = %q", ev.Auth.Data)
	}

	if !e.AuthenticateFinish(h, []byte("A1 OK success\r\n")) {
		t.Fatal("AuthenticateFinish should succeed")
	}
	out = driveOutput(t, e)
	if out != "A1 OK success\r\n" {
		t.Fatalf("out = %q", out)
	}

	// Codec restored to Command: a plain command parses again.
	e.Push([]byte("A2 NOOP\r\n"))
	ev = e.Next()
	if ev.Kind != EventCommandReceived || ev.Tag != "A2" {
		t.Fatalf("ev = %+v, want EventCommandReceived after codec restore", ev)
	}
}

func TestIdleAcceptAndDone(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	driveOutput(t, e)

	e.Push([]byte("A1 IDLE\r\n"))
	ev := e.Next()
	if ev.Kind != EventCommandIdleReceived || ev.Tag != "A1" {
		t.Fatalf("ev = %+v", ev)
	}
	h := ev.Handle

	if !e.IdleAccept(h, []byte("+ idling\r\n")) {
		t.Fatal("IdleAccept should succeed")
	}
	out := driveOutput(t, e)
	if out != "+ idling\r\n" {
		t.Fatalf("out = %q", out)
	}

	e.Push([]byte("DONE\r\n"))
	ev = e.Next()
	if ev.Kind != EventIdleDoneReceived || ev.Handle != h || ev.Tag != "A1" {
		t.Fatalf("ev = %+v", ev)
	}

	e.EnqueueStatus([]byte("A1 OK idle terminated\r\n"))
	out = driveOutput(t, e)
	if out != "A1 OK idle terminated\r\n" {
		t.Fatalf("out = %q", out)
	}
}

func TestIdleReject(t *testing.T) {
	e := newTestEngine(DefaultOptions())
	driveOutput(t, e)

	e.Push([]byte("A1 IDLE\r\n"))
	ev := e.Next()
	h := ev.Handle

	if !e.IdleReject(h, []byte("A1 NO idle disabled\r\n")) {
		t.Fatal("IdleReject should succeed")
	}
	out := driveOutput(t, e)
	if out != "A1 NO idle disabled\r\n" {
		t.Fatalf("out = %q", out)
	}

	e.Push([]byte("A2 NOOP\r\n"))
	ev = e.Next()
	if ev.Kind != EventCommandReceived || ev.Tag != "A2" {
		t.Fatalf("ev = %+v, want command codec restored after idle reject", ev)
	}
}

func TestNonSyncLiteralNotAcknowledged(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLiteralSize = 100
	e := newTestEngine(opts)
	driveOutput(t, e)

	e.Push([]byte("A1 LOGIN {3+}\r\nbob {3+}\r\npas\r\n"))
	ev := e.Next()
	if ev.Kind != EventCommandReceived {
		t.Fatalf("ev = %+v, want EventCommandReceived with no continuation output", ev)
	}
	if ev.Tag != "A1" {
		t.Errorf("tag = %q", ev.Tag)
	}
}
