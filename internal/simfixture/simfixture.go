// Package simfixture is a minimal, hand-rolled Simulation implementation
// used by tests and cmd/shipvmdemo in place of a real physics engine.
// It tracks just enough per-ship state to exercise every SystemState
// slot, and records every debug emission so callers can assert on it.
package simfixture

import "github.com/jamesgraves/shipvm"

// Fixture is a tiny in-memory Simulation: a tick counter, a seed, and a
// set of ships keyed by handle.
type Fixture struct {
	tick  uint64
	seed  uint32
	ships map[shipvm.ShipHandle]*Ship

	DebugTexts []DebugText
	DebugLines []DebugLines
	DrawnTexts []DrawnText
}

type DebugText struct {
	Handle shipvm.ShipHandle
	Text   string
}

type DebugLines struct {
	Handle shipvm.ShipHandle
	Lines  []shipvm.Line
}

type DrawnText struct {
	Handle shipvm.ShipHandle
	Texts  []shipvm.Text
}

// New returns an empty fixture seeded with seed.
func New(seed uint32) *Fixture {
	return &Fixture{seed: seed, ships: make(map[shipvm.ShipHandle]*Ship)}
}

// AddShip registers a new ship under handle with the given data,
// returning it so the caller can further configure kinematics before
// the first tick.
func (f *Fixture) AddShip(handle shipvm.ShipHandle, data shipvm.ShipData) *Ship {
	s := &Ship{handle: handle, data: data}
	f.ships[handle] = s
	return s
}

// Advance increments the simulation's tick counter. Call once per
// simulated tick, before running every team's TeamController.Tick.
func (f *Fixture) Advance() { f.tick++ }

func (f *Fixture) Tick() uint64 { return f.tick }
func (f *Fixture) Seed() uint32 { return f.seed }

func (f *Fixture) Ship(handle shipvm.ShipHandle) shipvm.Ship {
	s, ok := f.ships[handle]
	if !ok {
		return nil
	}
	return s
}

func (f *Fixture) EmitDebugText(handle shipvm.ShipHandle, text string) {
	f.DebugTexts = append(f.DebugTexts, DebugText{Handle: handle, Text: text})
}

func (f *Fixture) EmitDebugLines(handle shipvm.ShipHandle, lines []shipvm.Line) {
	f.DebugLines = append(f.DebugLines, DebugLines{Handle: handle, Lines: lines})
}

func (f *Fixture) EmitDrawnText(handle shipvm.ShipHandle, texts []shipvm.Text) {
	f.DrawnTexts = append(f.DrawnTexts, DrawnText{Handle: handle, Texts: texts})
}

// Ship is the fixture's Ship implementation: plain fields, mutated
// directly by the core's ApplyInbound pass.
type Ship struct {
	handle shipvm.ShipHandle
	data   shipvm.ShipData

	position        shipvm.Vec2
	velocity        shipvm.Vec2
	heading         float64
	angularVelocity float64

	Exploded        bool
	ActivatedAbility shipvm.Ability
	FiredGroups     []int
}

func (s *Ship) Data() *shipvm.ShipData { return &s.data }

func (s *Ship) Position() shipvm.Vec2      { return s.position }
func (s *Ship) Velocity() shipvm.Vec2      { return s.velocity }
func (s *Ship) Heading() float64           { return s.heading }
func (s *Ship) AngularVelocity() float64   { return s.angularVelocity }

func (s *Ship) SetPosition(p shipvm.Vec2) { s.position = p }
func (s *Ship) SetVelocity(v shipvm.Vec2) { s.velocity = v }
func (s *Ship) SetHeading(h float64)      { s.heading = h }

func (s *Ship) Accelerate(a shipvm.Vec2) {
	s.velocity.X += a.X
	s.velocity.Y += a.Y
}

func (s *Ship) Torque(t float64) {
	s.angularVelocity += t
}

func (s *Ship) Aim(group int, angle float64) {
	if r, ok := s.aimable(); ok {
		r.aim[group] = angle
	}
}

func (s *Ship) Fire(group int) {
	s.FiredGroups = append(s.FiredGroups, group)
}

func (s *Ship) ActivateAbility(a shipvm.Ability) { s.ActivatedAbility = a }
func (s *Ship) Explode()                         { s.Exploded = true }

// aimable is a placeholder hook for fixtures that track per-group aim
// state; the default fixture ship doesn't, so it always reports false.
func (s *Ship) aimable() (*struct{ aim [4]float64 }, bool) { return nil, false }

// Radar is a simple radar fixture whose Scan result is whatever
// NextContact holds; tests set it directly before a tick to simulate a
// sensor reading.
type Radar struct {
	heading, width, minDistance, maxDistance float64
	NextContact                              *shipvm.RadarContact
}

func (r *Radar) Heading() float64        { return r.heading }
func (r *Radar) Width() float64          { return r.width }
func (r *Radar) MinDistance() float64    { return r.minDistance }
func (r *Radar) MaxDistance() float64    { return r.maxDistance }
func (r *Radar) SetHeading(v float64)    { r.heading = v }
func (r *Radar) SetWidth(v float64)      { r.width = v }
func (r *Radar) SetMinDistance(v float64) { r.minDistance = v }
func (r *Radar) SetMaxDistance(v float64) { r.maxDistance = v }

func (r *Radar) Scan() *shipvm.RadarContact { return r.NextContact }

// Radio is a one-channel radio fixture; NextReceived simulates a
// message delivered this tick, and Sent captures the last message the
// guest published.
type Radio struct {
	channel      int
	NextReceived *[4]float64
	Sent         *[4]float64
}

func (r *Radio) Channel() int        { return r.channel }
func (r *Radio) SetChannel(c int)    { r.channel = c }
func (r *Radio) SetSent(d [4]float64) { r.Sent = &d }

func (r *Radio) Received() (data [4]float64, ok bool) {
	if r.NextReceived == nil {
		return [4]float64{}, false
	}
	return *r.NextReceived, true
}
