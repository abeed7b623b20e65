package sender

import "testing"

func drainBytes(s *Sender) []byte {
	var out []byte
	for {
		out2 := s.Drive()
		switch out2.Kind {
		case OutputBytes:
			out = append(out, out2.Bytes...)
		case OutputNothing, OutputDone, OutputWaitingForLiteralAccept,
			OutputWaitingForAuthenticateResponse, OutputWaitingForIdleResponse:
			return out
		}
	}
}

func TestRegularCommandNoLiteral(t *testing.T) {
	s := New()
	msg := NewBuilder().Bytes([]byte("A1 NOOP\r\n")).Build()
	s.EnqueueRegular(msg)
	if !s.StartNext() {
		t.Fatal("StartNext should succeed with a queued message")
	}

	got := drainBytes(s)
	if string(got) != "A1 NOOP\r\n" {
		t.Errorf("bytes = %q", got)
	}
	if s.HasCurrent() {
		t.Errorf("current should be cleared once fully drained")
	}
}

func TestRegularCommandSyncLiteralWaitAndRelease(t *testing.T) {
	s := New()
	msg := NewBuilder().
		Bytes([]byte("A1 LOGIN {3}\r\n")).
		SyncLiteral([]byte("bob")).
		Bytes([]byte(" {4}\r\n")).
		SyncLiteral([]byte("pass")).
		Bytes([]byte("\r\n")).
		Build()
	s.EnqueueRegular(msg)
	s.StartNext()

	out := s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "A1 LOGIN {3}\r\n" {
		t.Fatalf("first drive = %+v", out)
	}

	out = s.Drive()
	if out.Kind != OutputWaitingForLiteralAccept {
		t.Fatalf("kind = %v, want OutputWaitingForLiteralAccept", out.Kind)
	}
	if !s.WaitingForLiteralAccept() {
		t.Fatal("WaitingForLiteralAccept should be true")
	}

	if !s.ReleaseLiteral() {
		t.Fatal("ReleaseLiteral should succeed while waiting")
	}
	if s.WaitingForLiteralAccept() {
		t.Fatal("WaitingForLiteralAccept should be false after release")
	}

	out = s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "bob {4}\r\n" {
		t.Fatalf("drive after release = %+v", out)
	}

	out = s.Drive()
	if out.Kind != OutputWaitingForLiteralAccept {
		t.Fatalf("second literal should also pause, kind = %v", out.Kind)
	}
	if !s.ReleaseLiteral() {
		t.Fatal("ReleaseLiteral should succeed for the second literal")
	}

	out = s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "pass\r\n" {
		t.Fatalf("final drive = %+v", out)
	}

	out = s.Drive()
	if out.Kind != OutputDone {
		t.Fatalf("kind = %v, want OutputDone", out.Kind)
	}
}

func TestRegularCommandNonSyncLiteralPassesThrough(t *testing.T) {
	s := New()
	msg := NewBuilder().
		Bytes([]byte("A1 LOGIN {3+}\r\n")).
		NonSyncLiteral([]byte("bob")).
		Bytes([]byte("\r\n")).
		Build()
	s.EnqueueRegular(msg)
	s.StartNext()

	got := drainBytes(s)
	if string(got) != "A1 LOGIN {3+}\r\nbob\r\n" {
		t.Errorf("bytes = %q, want no pause for non-sync literal", got)
	}
}

func TestRegularCommandAbortOnLiteralRejection(t *testing.T) {
	s := New()
	msg := NewBuilder().
		Bytes([]byte("A1 LOGIN {3}\r\n")).
		SyncLiteral([]byte("bob")).
		Bytes([]byte("\r\n")).
		Build()
	s.EnqueueRegular(msg)
	s.StartNext()

	s.Drive() // emits the line up to the literal announcement
	out := s.Drive()
	if out.Kind != OutputWaitingForLiteralAccept {
		t.Fatalf("kind = %v, want OutputWaitingForLiteralAccept", out.Kind)
	}

	if !s.AbortCurrent() {
		t.Fatal("AbortCurrent should succeed while waiting for literal accept")
	}
	if s.HasCurrent() {
		t.Error("current should be cleared after abort")
	}
}

func TestFIFOEnqueueOrderPreserved(t *testing.T) {
	s := New()
	s.EnqueueRegular(NewBuilder().Bytes([]byte("A1 NOOP\r\n")).Build())
	s.EnqueueRegular(NewBuilder().Bytes([]byte("A2 NOOP\r\n")).Build())
	s.EnqueueRegular(NewBuilder().Bytes([]byte("A3 NOOP\r\n")).Build())

	var all []byte
	for i := 0; i < 3; i++ {
		if !s.StartNext() {
			t.Fatalf("StartNext should succeed for message %d", i)
		}
		all = append(all, drainBytes(s)...)
	}
	if string(all) != "A1 NOOP\r\nA2 NOOP\r\nA3 NOOP\r\n" {
		t.Errorf("bytes = %q, order not preserved", all)
	}
}

func TestStartNextRefusesWhenCurrentActive(t *testing.T) {
	s := New()
	s.EnqueueRegular(NewBuilder().Bytes([]byte("A1 NOOP\r\n")).Build())
	s.EnqueueRegular(NewBuilder().Bytes([]byte("A2 NOOP\r\n")).Build())
	s.StartNext()
	if s.StartNext() {
		t.Fatal("StartNext should fail while a message is current")
	}
}

func TestAuthenticateFullCycleAccepted(t *testing.T) {
	s := New()
	pieces := []Piece{{Kind: PieceBytes, Data: []byte("A1 AUTHENTICATE PLAIN\r\n")}}
	if !s.StartAuthenticate(pieces) {
		t.Fatal("StartAuthenticate should succeed")
	}

	out := s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "A1 AUTHENTICATE PLAIN\r\n" {
		t.Fatalf("drive = %+v", out)
	}
	out = s.Drive()
	if out.Kind != OutputWaitingForAuthenticateResponse {
		t.Fatalf("kind = %v, want OutputWaitingForAuthenticateResponse", out.Kind)
	}
	if !s.WaitingForAuthenticateResponse() {
		t.Fatal("WaitingForAuthenticateResponse should be true")
	}

	if !s.OnAuthenticateContinuation() {
		t.Fatal("OnAuthenticateContinuation should succeed")
	}
	if !s.SetAuthenticateData([]byte("AGJvYgBwYXNz\r\n")) {
		t.Fatal("SetAuthenticateData should succeed")
	}

	out = s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "AGJvYgBwYXNz\r\n" {
		t.Fatalf("drive after data set = %+v", out)
	}
	out = s.Drive()
	if out.Kind != OutputWaitingForAuthenticateResponse {
		t.Fatalf("kind = %v after data sent", out.Kind)
	}

	if !s.FinishAuthenticate(true) {
		t.Fatal("FinishAuthenticate should succeed")
	}
	if s.HasCurrent() {
		t.Error("current should be cleared after FinishAuthenticate")
	}
}

func TestAuthenticateRejectedBeforeContinuation(t *testing.T) {
	s := New()
	s.StartAuthenticate([]Piece{{Kind: PieceBytes, Data: []byte("A1 AUTHENTICATE PLAIN\r\n")}})
	s.Drive()
	s.Drive()

	if !s.FinishAuthenticate(false) {
		t.Fatal("FinishAuthenticate should succeed directly from waiting-for-response")
	}
	if s.HasCurrent() {
		t.Error("current should be cleared after rejection")
	}
}

func TestIdleFullCycle(t *testing.T) {
	s := New()
	if !s.StartIdle([]Piece{{Kind: PieceBytes, Data: []byte("A1 IDLE\r\n")}}) {
		t.Fatal("StartIdle should succeed")
	}

	out := s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "A1 IDLE\r\n" {
		t.Fatalf("drive = %+v", out)
	}
	out = s.Drive()
	if out.Kind != OutputWaitingForIdleResponse {
		t.Fatalf("kind = %v, want OutputWaitingForIdleResponse", out.Kind)
	}
	if !s.WaitingForIdleResponse() {
		t.Fatal("WaitingForIdleResponse should be true")
	}

	if !s.OnIdleContinuation() {
		t.Fatal("OnIdleContinuation should succeed")
	}
	if !s.SetIdleDone() {
		t.Fatal("SetIdleDone should succeed once accepted")
	}

	out = s.Drive()
	if out.Kind != OutputBytes || string(out.Bytes) != "DONE\r\n" {
		t.Fatalf("drive after SetIdleDone = %+v", out)
	}
	out = s.Drive()
	if out.Kind != OutputDone {
		t.Fatalf("kind = %v, want OutputDone", out.Kind)
	}
	if s.HasCurrent() {
		t.Error("current should be cleared after idle done")
	}
}

func TestIdleRejected(t *testing.T) {
	s := New()
	s.StartIdle([]Piece{{Kind: PieceBytes, Data: []byte("A1 IDLE\r\n")}})
	s.Drive()
	s.Drive()

	if !s.RejectIdle() {
		t.Fatal("RejectIdle should succeed while waiting for response")
	}
	if s.HasCurrent() {
		t.Error("current should be cleared after rejection")
	}
}

func TestCurrentKindReflectsActivity(t *testing.T) {
	s := New()
	if s.CurrentKind() != ActivityNone {
		t.Fatalf("kind = %v, want ActivityNone", s.CurrentKind())
	}
	s.EnqueueRegular(NewBuilder().Bytes([]byte("A1 NOOP\r\n")).Build())
	s.StartNext()
	if s.CurrentKind() != ActivityRegular {
		t.Fatalf("kind = %v, want ActivityRegular", s.CurrentKind())
	}
}
