// Package activation provides the webhook listener, preferring a socket
// handed over by systemd.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// listenFDsStart is the first descriptor systemd passes (after stdio).
const listenFDsStart = 3

// Listener returns the socket systemd activated this process with, or a new
// TCP listener on addr when there is none. The bool reports whether the
// socket came from systemd.
func Listener(addr string) (net.Listener, bool, error) {
	lns, err := Listeners()
	if err != nil {
		return nil, false, err
	}

	switch len(lns) {
	case 0:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, false, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		return ln, false, nil
	case 1:
		return lns[0], true, nil
	default:
		closeAll(lns)
		return nil, false, fmt.Errorf("expected a single activated socket, got %d", len(lns))
	}
}

// Listeners returns the systemd-activated listeners, or nil when LISTEN_PID
// and LISTEN_FDS do not address this process.
func Listeners() ([]net.Listener, error) {
	lns, err := listeners(os.Getenv, os.Getpid(), listenFDsStart)
	if lns != nil {
		// Child processes must not pick the sockets up again.
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
		_ = os.Unsetenv("LISTEN_FDNAMES")
	}
	return lns, err
}

func listeners(getenv func(string) string, pid, firstFD int) ([]net.Listener, error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}
	listenPID, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if listenPID != pid {
		return nil, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 1 {
		return nil, nil
	}

	lns := make([]net.Listener, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			closeAll(lns)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		ln, err := net.FileListener(file)
		// FileListener dups the descriptor.
		_ = file.Close()
		if err != nil {
			closeAll(lns)
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		lns = append(lns, ln)
	}
	return lns, nil
}

func closeAll(lns []net.Listener) {
	for _, l := range lns {
		_ = l.Close()
	}
}
