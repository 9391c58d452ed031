package transport

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/metrics"
	"github.com/luciancaetano/hillnet/internal/protocol"
)

// CheckOriginFn validates the origin of a WebSocket upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// SignatureFn inspects the first frame of a connection when the clients-only
// filter is on. Returning false rejects the connection.
type SignatureFn = func(f protocol.Frame) bool

type ServerConfig struct {
	// Addr is the TCP listen address, e.g. ":42480".
	Addr string

	// WebSocket, when enabled, accepts the same byte stream as binary
	// WebSocket messages.
	WebSocket WebSocketConfig

	RateLimitConfig *RateLimitConfig

	// AuthTimeout is the idle limit before a connection authenticates.
	AuthTimeout time.Duration

	// ClientsOnly rejects connections whose first frame is not a client
	// authentication frame accepted by Signature.
	ClientsOnly bool
	Signature   SignatureFn

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// WebSocketConfig configures the optional WebSocket listener. The metrics
// handler, when set, is served on the same mux.
type WebSocketConfig struct {
	Enabled     bool
	Addr        string
	Path        string
	CheckOrigin CheckOriginFn
}

// RateLimitConfig defines rate limiting configuration for connections
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames a connection can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 frames per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

const (
	// DefaultAuthTimeout bounds how long an unauthenticated connection may sit idle.
	DefaultAuthTimeout = 5 * time.Second

	sendBuffer   = 256
	readBuffer   = 4096
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// Reason says why a connection closed.
type Reason uint8

const (
	ReasonRemote Reason = iota
	ReasonIdle
	ReasonKicked
	ReasonProtocol
	ReasonRateLimited
	ReasonRejected
	ReasonShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonRemote:
		return "remote"
	case ReasonIdle:
		return "idle"
	case ReasonKicked:
		return "kicked"
	case ReasonProtocol:
		return "protocol"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonRejected:
		return "rejected"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
