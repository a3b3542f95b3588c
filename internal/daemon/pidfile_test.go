package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRemovePID(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID = %d, want %d", pid, os.Getpid())
	}

	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := ReadPID(dir); err == nil {
		t.Error("ReadPID succeeded after RemovePID")
	}
}

func TestWritePIDCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID with missing dir: %v", err)
	}
	if _, err := ReadPID(dir); err != nil {
		t.Errorf("ReadPID: %v", err)
	}
}

func TestRemovePIDMissingIsNotError(t *testing.T) {
	if err := RemovePID(t.TempDir()); err != nil {
		t.Errorf("RemovePID on missing file: %v", err)
	}
}

func TestReadPIDGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("writing garbage PID file: %v", err)
	}
	if _, err := ReadPID(dir); err == nil {
		t.Error("ReadPID accepted garbage")
	}
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	if IsRunning(dir) {
		t.Error("IsRunning true with no PID file")
	}

	// Our own PID is alive.
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if !IsRunning(dir) {
		t.Error("IsRunning false for current process")
	}

	// A PID that cannot exist is not alive.
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte("999999999"), 0o644); err != nil {
		t.Fatalf("writing fake PID: %v", err)
	}
	if IsRunning(dir) {
		t.Error("IsRunning true for impossible PID")
	}
}
