package game

import (
	"time"

	"github.com/luciancaetano/hillnet"
	"github.com/luciancaetano/hillnet/internal/clock"
	"github.com/luciancaetano/hillnet/internal/session"
	"github.com/luciancaetano/hillnet/internal/world"
)

// TimerOwner is anything that cancels its timers when it goes away: sessions,
// bricks and sound emitters.
type TimerOwner interface {
	Track(t clock.Timer) (stop func())
}

func (g *Game) OnJoin(fn func(*session.Session)) hillnet.Subscription {
	return g.sessions.Events.Joined.Subscribe(fn)
}

func (g *Game) OnLeave(fn func(*session.Session)) hillnet.Subscription {
	return g.sessions.Events.Left.Subscribe(fn)
}

// OnInitialSpawn fires once a player has finished joining and is Active.
func (g *Game) OnInitialSpawn(fn func(*session.Session)) hillnet.Subscription {
	return g.sessions.Events.InitialSpawn.Subscribe(fn)
}

func (g *Game) OnDied(fn func(*session.Session)) hillnet.Subscription {
	return g.sessions.Events.Died.Subscribe(fn)
}

// OnChat takes over chat: while any handler is subscribed, chat lines are
// handed to the handlers instead of being broadcast.
func (g *Game) OnChat(fn func(session.ChatEvent)) hillnet.Subscription {
	return g.sessions.Events.Chat.Subscribe(fn)
}

func (g *Game) OnAvatarLoaded(fn func(session.AvatarEvent)) hillnet.Subscription {
	return g.sessions.Events.AvatarLoaded.Subscribe(fn)
}

// Command handles the slash command name.
func (g *Game) Command(name string, fn func(s *session.Session, args string)) hillnet.Subscription {
	return g.sessions.Events.Command.Subscribe(func(ev session.CommandEvent) {
		if ev.Name == name {
			fn(ev.Session, ev.Args)
		}
	})
}

// OnFrame receives raw inbound frames of one kind from every Active session.
func (g *Game) OnFrame(kind uint8, fn func(session.FrameEvent)) hillnet.Subscription {
	return g.sessions.Events.Frame.Subscribe(func(ev session.FrameEvent) {
		if ev.Frame.Kind == kind {
			fn(ev)
		}
	})
}

// OnBrickTouch fires when a player starts touching b. The proximity scan runs
// while any brick has a touch listener.
func (g *Game) OnBrickTouch(b *world.Brick, fn func(world.TouchEvent)) hillnet.Subscription {
	sub := b.Touching.Subscribe(fn)
	g.detector.Wake()
	return sub
}

func (g *Game) OnBrickTouchEnded(b *world.Brick, fn func(world.TouchEvent)) hillnet.Subscription {
	sub := b.TouchingEnded.Subscribe(fn)
	g.detector.Wake()
	return sub
}

// OnBrickClick fires when a player in click range clicks b.
func (g *Game) OnBrickClick(b *world.Brick, fn func(world.TouchEvent)) hillnet.Subscription {
	return b.Clicked.Subscribe(fn)
}

// SetInterval runs fn every d until the returned stop is called or owner goes
// away. A nil owner ties the interval to the game.
func (g *Game) SetInterval(owner TimerOwner, d time.Duration, fn func()) (stop func()) {
	if owner == nil {
		owner = &g.timers
	}
	return owner.Track(clock.Every(g.clk, d, fn))
}

// SetTimeout runs fn once after d unless stopped first or owner goes away.
func (g *Game) SetTimeout(owner TimerOwner, d time.Duration, fn func()) (stop func()) {
	if owner == nil {
		owner = &g.timers
	}
	return owner.Track(g.clk.AfterFunc(d, fn))
}
