package config

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// Signal identifies a signal delivered to engines when a blocking wait is interrupted.
type Signal struct {
	Name   string
	Number syscall.Signal
}

func (s Signal) String() string {
	return s.Name
}

var signalsByName = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGKILL": syscall.SIGKILL,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
	"SIGTERM": syscall.SIGTERM,
	"SIGSTOP": syscall.SIGSTOP,
	"SIGCONT": syscall.SIGCONT,
}

// maxSignal bounds numeric identifiers to the real-time range on Linux.
const maxSignal = 64

// ParseSignal parses a signal identifier: a name ("SIGINT", "int"), a number ("2",
// "0" for a liveness check) or "none". It returns nil for "none", meaning interrupts
// propagate instead of being forwarded.
func ParseSignal(text string) (*Signal, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, &ConfigError{Field: "signal", Value: text, Reason: "empty signal identifier"}
	}
	if strings.EqualFold(raw, "none") {
		return nil, nil
	}

	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 || n > maxSignal {
			return nil, &ConfigError{Field: "signal", Value: text, Reason: fmt.Sprintf("signal number must be between 0 and %d", maxSignal)}
		}
		num := syscall.Signal(n)
		for name, v := range signalsByName {
			if v == num {
				return &Signal{Name: name, Number: num}, nil
			}
		}
		return &Signal{Name: strconv.Itoa(n), Number: num}, nil
	}

	name := strings.ToUpper(raw)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	num, ok := signalsByName[name]
	if !ok {
		return nil, &ConfigError{Field: "signal", Value: text, Reason: "unknown signal name"}
	}
	return &Signal{Name: name, Number: num}, nil
}
