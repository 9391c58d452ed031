package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/luciancaetano/hillnet/internal/protocol"
	"github.com/luciancaetano/hillnet/internal/replicate"
	"github.com/luciancaetano/hillnet/internal/world"
)

// throttle limits the position stream of one session to one broadcast per
// window. Updates inside an open window overwrite each other; when the window
// closes the last one is flushed.
type throttle struct {
	mu      sync.Mutex
	last    replicate.Pose // what the other players last saw
	pending *replicate.Pose
	open    bool
	stop    func()
}

func (t *throttle) reset(p replicate.Pose) {
	t.mu.Lock()
	t.last = p
	t.mu.Unlock()
}

// Client position frame: x, y, z, yaw, camera pitch.
func (s *Session) handlePosition(f protocol.Frame) error {
	r := f.Reader()
	pose := replicate.Pose{X: r.F32(), Y: r.F32(), Z: r.F32(), Yaw: r.F32(), CameraPitch: r.F32()}
	if err := r.Err(); err != nil {
		return err
	}
	// The world always holds the newest value, throttled or not.
	if err := s.player.Update(func(ps *world.PlayerState) {
		ps.Position.X, ps.Position.Y, ps.Position.Z = pose.X, pose.Y, pose.Z
		ps.Rotation.Z = pose.Yaw
		ps.Camera.Pitch = pose.CameraPitch
	}); err != nil {
		return err
	}
	s.offerPose(pose)
	return nil
}

func (s *Session) offerPose(pose replicate.Pose) {
	t := &s.throttle
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.pending = &pose
		s.m.metrics.ThrottledPositions.Add(1)
		return
	}
	s.broadcastPoseLocked(pose)
	s.openWindowLocked()
}

func (s *Session) openWindowLocked() {
	t := &s.throttle
	t.open = true
	timer := s.m.clk.AfterFunc(s.m.opts.PositionThrottle, s.closeWindow)
	t.stop = s.timers.Track(timer)
}

// closeWindow runs when a window ends. A pending pose is flushed and opens the
// next window, so a steady stream stays at one frame per window.
func (s *Session) closeWindow() {
	t := &s.throttle
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.open = false
	if t.pending == nil || s.State() != Active {
		t.pending = nil
		return
	}
	pose := *t.pending
	t.pending = nil
	s.broadcastPoseLocked(pose)
	s.openWindowLocked()
}

func (s *Session) broadcastPoseLocked(pose replicate.Pose) {
	t := &s.throttle
	tags := replicate.PoseDelta(t.last, pose)
	if tags == "" {
		return
	}
	t.last = pose
	if err := s.m.sync.PlayerPose(s.ctx, s.NetID(), pose, tags); err != nil {
		s.log.Debug("pose broadcast", zap.Error(err))
	}
}
