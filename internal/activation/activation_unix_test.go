//go:build unix

package activation

import (
	"net"
	"os"
	"strconv"
	"syscall"
	"testing"
)

func TestListeners_PassedSocket(t *testing.T) {
	orig, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create test listener: %v", err)
	}
	defer func() {
		_ = orig.Close()
	}()

	file, err := orig.(*net.TCPListener).File()
	if err != nil {
		t.Fatalf("failed to get listener file: %v", err)
	}
	defer func() {
		_ = file.Close()
	}()

	// A private dup stands in for the descriptor systemd would pass; it is
	// consumed by listeners.
	fd, err := syscall.Dup(int(file.Fd()))
	if err != nil {
		t.Fatalf("dup failed: %v", err)
	}

	self := os.Getpid()
	lns, err := listeners(env(map[string]string{
		"LISTEN_PID": strconv.Itoa(self),
		"LISTEN_FDS": "1",
	}), self, fd)
	if err != nil {
		t.Fatalf("listeners() unexpected error: %v", err)
	}
	if len(lns) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(lns))
	}
	defer func() {
		_ = lns[0].Close()
	}()

	if got, want := lns[0].Addr().String(), orig.Addr().String(); got != want {
		t.Errorf("listener addr = %s, want %s", got, want)
	}
}
