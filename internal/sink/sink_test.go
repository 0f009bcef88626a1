package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenStdoutAndStderr(t *testing.T) {
	for _, name := range []string{"stdout", "stderr", ""} {
		s, err := Open(name)
		if err != nil {
			t.Fatalf("Open(%q) returned error: %v", name, err)
		}

		if s == nil {
			t.Fatalf("Open(%q) returned a nil Sink", name)
		}
	}
}

func TestOpenFilePathWithPidSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump-@pid.txt")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q) returned error: %v", path, err)
	}

	s.Println("hello")

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	wantPath := filepath.Join(dir, fmt.Sprintf("dump-%d.txt", os.Getpid()))

	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("expected file %q to exist: %v", wantPath, err)
	}

	if string(data) != "hello\n" {
		t.Errorf("got file contents %q, want %q", data, "hello\n")
	}
}

func TestWriteBytesThenFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.txt")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q) returned error: %v", path, err)
	}

	if _, err := s.WriteBytes([]byte("abc")); err != nil {
		t.Fatalf("WriteBytes returned error: %v", err)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != "abc" {
		t.Errorf("got %q, want %q", data, "abc")
	}
}
