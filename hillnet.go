package hillnet

import "context"

// Server defines the lifecycle of a game server speaking the hillnet binary protocol.
//
// A Server owns the TCP listener (and the optional WebSocket listener), the shared
// world and every connected session. It is constructed explicitly and passed to
// whatever needs it; there is no package-level game object.
//
// Example usage:
//
//	import "github.com/luciancaetano/hillnet/host"
//
//	cfg := host.DefaultConfig()
//	game, err := host.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//
//	game.OnJoin(func(p *host.Player) {
//	    p.Message(ctx, "welcome!")
//	})
//
//	game.Start(ctx)
type Server interface {
	// Start binds the listeners and begins accepting connections.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop closes the listeners and tears down every connected session.
	// Each session runs its normal disconnect sequence.
	Stop(ctx context.Context) error

	// Shutdown runs the registered shutdown hook exactly once and then stops the
	// server. Calling Shutdown again returns the result of the first call.
	//
	// The hook may run asynchronously; Shutdown waits for it until ctx expires.
	Shutdown(ctx context.Context) error
}

// Subscription is a capability token returned by every subscribe call.
//
// Disconnect removes exactly the one handler it was issued for. It reports
// whether the handler was still registered, so a second call returns false.
//
// Example:
//
//	sub := game.OnChat(func(ev host.ChatEvent) { ... })
//	defer sub.Disconnect()
type Subscription interface {
	Disconnect() bool
}
