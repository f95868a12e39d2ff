// Package runtime resolves which data path a plantsync process owns.
//
// A process runs in exactly one of two modes for its entire lifetime:
//
//   - Local: the process owns an embedded SQLite database and keeps
//     peers consistent by broadcasting change events over the relay.
//   - Backend: the process talks to a centrally hosted API and holds
//     no local database at all.
//
// The mode is resolved once from injected configuration, never from
// ambient globals, so that tests and callers can see the dependency.
package runtime

import (
	"errors"
	"fmt"
)

// Mode identifies the authoritative data path for this process.
type Mode int

const (
	// ModeUnknown is the zero value; no connector accepts it.
	ModeUnknown Mode = iota

	// ModeLocal means the embedded store is authoritative.
	ModeLocal

	// ModeBackend means the hosted API is authoritative.
	ModeBackend
)

var (
	// ErrEnvironmentAmbiguous means the configuration is consistent
	// with no known mode, or with more than one. Fatal at startup.
	ErrEnvironmentAmbiguous = errors.New("runtime environment is ambiguous")

	// ErrWrongMode means a mode-specific connector was invoked outside
	// its mode. This is a wiring bug, not an operational condition.
	ErrWrongMode = errors.New("operation invoked in wrong runtime mode")
)

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Config carries the environment signals the detector is allowed to
// look at. Callers populate it from viper at process start.
type Config struct {
	// Mode is the explicit mode override: "local", "backend", or
	// "auto" / "" to infer from the other fields.
	Mode string

	// Desktop is the desktop-runtime marker. When set, the process is
	// packaged with its own embedded database.
	Desktop bool

	// BackendURL is the hosted API base URL, empty when none is
	// configured.
	BackendURL string
}

// Detect resolves the runtime mode from cfg.
//
// Detect is pure and idempotent; callers may invoke it freely, but the
// connectors capture one result at construction and never re-resolve,
// because switching mode mid-process would desynchronize the
// singletons.
func Detect(cfg Config) (Mode, error) {
	switch cfg.Mode {
	case "local":
		return ModeLocal, nil
	case "backend":
		if cfg.BackendURL == "" {
			return ModeUnknown, fmt.Errorf("%w: mode=backend but no backend URL configured", ErrEnvironmentAmbiguous)
		}
		return ModeBackend, nil
	case "", "auto":
		// Fall through to inference.
	default:
		return ModeUnknown, fmt.Errorf("%w: unrecognized mode %q", ErrEnvironmentAmbiguous, cfg.Mode)
	}

	switch {
	case cfg.Desktop && cfg.BackendURL != "":
		return ModeUnknown, fmt.Errorf("%w: desktop marker and backend URL are both set", ErrEnvironmentAmbiguous)
	case cfg.Desktop:
		return ModeLocal, nil
	case cfg.BackendURL != "":
		return ModeBackend, nil
	default:
		return ModeUnknown, fmt.Errorf("%w: neither desktop marker nor backend URL present", ErrEnvironmentAmbiguous)
	}
}
