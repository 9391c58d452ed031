package hillnet

// Message kinds sent by the server. The kind is always the first byte of a
// (decompressed) frame payload.
const (
	KindAuthentication     uint8 = 1
	KindSendPlayers        uint8 = 3
	KindFigure             uint8 = 4
	KindRemovePlayer       uint8 = 5
	KindChat               uint8 = 6
	KindPlayerModification uint8 = 7
	KindKill               uint8 = 8
	KindBrick              uint8 = 9
	KindTeam               uint8 = 10
	KindTool               uint8 = 11
	KindClearMap           uint8 = 14
	KindDeleteBrick        uint8 = 16
	KindSendBricks         uint8 = 17
	KindSound              uint8 = 18
	KindEnvironment        uint8 = 19
	KindKick               uint8 = 20
	KindDeleteTeam         uint8 = 21
)

// Message kinds sent by clients.
const (
	KindClientAuthentication uint8 = 1
	KindClientPosition       uint8 = 2
	KindClientCommand        uint8 = 3
	KindClientClick          uint8 = 5
	KindClientInput          uint8 = 6
	KindClientHeartbeat      uint8 = 18
)

// MaxKind is the highest usable message kind. 0x78 opens a zlib stream, so a
// payload starting with it is always a compressed payload.
const MaxKind uint8 = 0x77

// Standard error messages
const (
	// Protocol errors
	ErrMalformedFrame = "malformed frame"
	ErrFrameTooLarge  = "frame exceeds maximum size"
	ErrShortFrame     = "frame ended before field"
	ErrBadSignature   = "client signature mismatch"

	// Connection errors
	ErrConnectionClosed     = "connection is closed"
	ErrContextCancelled     = "connection context cancelled"
	ErrFailedToEncode       = "failed to encode frame"
	ErrServerAlreadyRunning = "server already running"
	ErrRateLimited          = "rate limit exceeded"

	// Session errors
	ErrSessionTerminated = "session terminated"
	ErrAuthFailed        = "authentication failed"
	ErrServerFull        = "server is full"

	// World errors
	ErrEntityDestroyed = "entity already destroyed"
	ErrEntityNotFound  = "entity not found"
	ErrEntityDuplicate = "entity already registered"
)
