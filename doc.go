// Package hillnet is the server side of a real-time multiplayer building game.
//
// It accepts persistent TCP connections from game clients, authenticates them and
// keeps every client's view of a shared world (players, bricks, tools, teams and
// sound emitters) synchronized through a compact typed binary wire format.
//
// # Architecture
//
// The server is assembled from small internal components, leaves first:
//
//   - internal/protocol: frame codec, field builder/reader, addressing
//   - internal/transport: TCP (and optional WebSocket) listener, stream reassembly, idle timers
//   - internal/session: per-connection state machine and join sequence
//   - internal/world: the shared world store
//   - internal/replicate: world mutations to addressed frames
//   - internal/proximity: touch detection between players and bricks
//   - internal/maploader: the legacy .brk map format
//   - internal/profile: the web API behind accounts, avatars and assets
//   - internal/game: the assembled server and its scripting surface
//
// The host package exposes the constructed game to scripts and binaries.
//
// # Quick Start
//
//	game, err := host.New(host.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := game.LoadMap(ctx, "maps/base.brk"); err != nil {
//	    log.Print(err)
//	}
//
//	game.Command("kill", func(p *host.Player, args string) {
//	    p.Kill(ctx)
//	})
//
//	game.Start(ctx)
//
// # Protocol Format
//
// Every frame is length-prefixed and starts with a message kind:
//
//	[uintv length][kind (1 byte)][fields...]
//
// The length prefix is a 1-4 byte little-endian value whose low bits carry its
// own width. Numbers are little-endian, strings carry a uintv length prefix.
// Some kinds (the initial brick dump) are zlib-compressed; a compressed payload
// always begins with 0x78, which is never a valid kind.
//
// A single socket read is never assumed to hold exactly one frame; bytes are
// buffered until a whole frame is present, and leftovers wait for the next read.
//
// # Addressing
//
// An encoded packet can be sent to one connection, broadcast to every active
// session, or broadcast to every active session except an exclusion set. The
// audience is taken at the moment the broadcast runs.
//
// # Security Features
//
//   - Rate limiting per connection (token bucket, kick on excess)
//   - Maximum frame size: 10MB
//   - Unauthenticated connections get a short timeout
//   - Optional clients-only filter drops traffic that does not start with a client handshake
package hillnet
