package uexec

import (
	"io"
	"testing"
)

func TestAddPipeRoundTrip(t *testing.T) {
	c := NewChild("/bin/cat")
	if err := c.AddPipe(STDIN); err != nil {
		t.Fatalf("AddPipe(STDIN): %s", err)
	}
	if err := c.AddPipe(STDOUT); err != nil {
		t.Fatalf("AddPipe(STDOUT): %s", err)
	}
	if err := c.SetDevNull(STDERR); err != nil {
		t.Fatalf("SetDevNull(STDERR): %s", err)
	}

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}

	if _, err := c.ParentIo[STDIN].Write([]byte("hello\n")); err != nil {
		t.Fatalf("write to child stdin: %s", err)
	}
	c.ParentIo[STDIN].Close()
	c.ParentIo[STDIN] = nil

	out, err := io.ReadAll(c.ParentIo[STDOUT])
	if err != nil {
		t.Fatalf("read child stdout: %s", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("got %q, want %q", out, "hello\n")
	}

	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %s", err)
	}
}

func TestSetDevNullRejectsBadFd(t *testing.T) {
	c := NewChild("/bin/true")
	if err := c.SetDevNull(3); err == nil {
		t.Fatalf("expected error for out-of-range fd")
	}
}

func TestStatusBeforeWaitErrors(t *testing.T) {
	c := NewChild("/bin/true")
	if _, err := c.Status(); err == nil {
		t.Fatalf("expected error before Wait")
	}
}

func TestStatusAfterExit(t *testing.T) {
	c := NewChild("/bin/true")
	c.SetDevNull(STDIN)
	c.SetDevNull(STDOUT)
	c.SetDevNull(STDERR)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %s", err)
	}
	code, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %s", err)
	}
	if code != 0 {
		t.Fatalf("got exit code %d, want 0", code)
	}
}

func TestCloseIsIdempotentOnUnstartedChild(t *testing.T) {
	c := NewChild("/bin/true")
	c.AddPipe(STDIN)
	c.Close()
	c.Close()
	if c.ParentIo[STDIN] != nil {
		t.Fatalf("Close should clear ParentIo")
	}
}
