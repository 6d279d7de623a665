package sandbox

import "time"

// Config holds provider-level settings shared by all session kinds.
type Config struct {
	// Image is the container image used by KindContainer.
	Image string
	// Memory is the container memory limit, e.g. "512m".
	Memory string
	// CPU is the container CPU limit, e.g. "1.5".
	CPU string
	// RemoteBaseURL is the execution service endpoint for KindRemote.
	RemoteBaseURL string
	// DenyList extends the built-in denied operations for KindLocal.
	DenyList []string
	// CreateTimeout bounds session creation (image pull, remote handshake).
	CreateTimeout time.Duration
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	return Config{
		Image:         "alpine:3.20",
		Memory:        "512m",
		CPU:           "1",
		CreateTimeout: 60 * time.Second,
	}
}

// defaultDenyList blocks operations a generated fragment must never reach
// from the in-process evaluator. Matched as substrings of the fragment, the
// same pragmatic check the structured variants get from real isolation.
var defaultDenyList = []string{
	"exec(",
	"spawn(",
	"system(",
	"subprocess",
	"__import__",
	"eval(",
	"open(",
	"socket(",
	"unlink(",
	"rmdir(",
}
