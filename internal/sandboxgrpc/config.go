package sandboxgrpc

import "time"

// Config controls the sandbox gRPC server/client setup.
type Config struct {
	SocketPath string
	// WorkRoot is the directory every sandbox path is resolved against.
	WorkRoot          string
	KeepaliveInterval time.Duration
	KeepaliveMisses   int
	CommandNice       int
}

const (
	defaultKeepaliveInterval = 10 * time.Second
	defaultKeepaliveMisses   = 3
)
