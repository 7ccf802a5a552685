package shipvm

// Vec2 is a 2-D vector, used for position, velocity, and acceleration.
type Vec2 struct {
	X, Y float64
}

// ShipClass is the simulation-side ship classification.
type ShipClass int

const (
	ShipClassFighter ShipClass = iota
	ShipClassFrigate
	ShipClassCruiser
	ShipClassTarget
	ShipClassMissile
	ShipClassTorpedo
	ShipClassAsteroid
	ShipClassPlanet
)

// Class is the guest-visible translation of ShipClass, sent over
// SystemState. Planet has no guest-visible class and maps to Unknown.
type Class int

const (
	ClassUnknown Class = iota
	ClassFighter
	ClassFrigate
	ClassCruiser
	ClassTarget
	ClassMissile
	ClassTorpedo
	ClassAsteroid
)

// translateClass is the total mapping from the simulation's ShipClass to
// the guest-visible Class. Planet deliberately maps to Unknown; every
// other variant maps to its namesake.
func translateClass(c ShipClass) Class {
	switch c {
	case ShipClassFighter:
		return ClassFighter
	case ShipClassFrigate:
		return ClassFrigate
	case ShipClassCruiser:
		return ClassCruiser
	case ShipClassTarget:
		return ClassTarget
	case ShipClassMissile:
		return ClassMissile
	case ShipClassTorpedo:
		return ClassTorpedo
	case ShipClassAsteroid:
		return ClassAsteroid
	case ShipClassPlanet:
		return ClassUnknown
	default:
		return ClassUnknown
	}
}

// Ability is the guest-visible ship ability enum.
type Ability uint32

const (
	AbilityNone Ability = iota
	AbilityBoost
	AbilityShapedCharge
	AbilityDecoy
	AbilityShield
)

// translateAbility truncates a SystemState f64 to u32 and matches it
// against the known Ability values. Any other value means "no ability",
// reported via ok=false so callers can distinguish "None" from "garbage".
func translateAbility(v float64) (ability Ability, ok bool) {
	u := uint32(int64(v))
	switch Ability(u) {
	case AbilityNone, AbilityBoost, AbilityShapedCharge, AbilityDecoy, AbilityShield:
		return Ability(u), true
	default:
		return AbilityNone, false
	}
}

// RadarContact is what Radar.Scan returns when a contact is in view.
type RadarContact struct {
	Position Vec2
	Velocity Vec2
	Class    ShipClass
}

// Radar is the mutable radar state attached to a ship that has one.
type Radar interface {
	Heading() float64
	Width() float64
	MinDistance() float64
	MaxDistance() float64
	SetHeading(float64)
	SetWidth(float64)
	SetMinDistance(float64)
	SetMaxDistance(float64)
	Scan() *RadarContact
}

// Target is the tracked-target state used by ships without a radar (e.g.
// a guided missile homing on a pre-assigned target).
type Target struct {
	Position Vec2
	Velocity Vec2
}

// Radio is one of a ship's radio channels.
type Radio interface {
	Channel() int
	SetChannel(int)
	// Received returns the message delivered this tick, if any. Messages
	// sent in tick N are visible only in tick N+1; the simulation, not
	// this core, enforces that delay.
	Received() (data [4]float64, ok bool)
	// SetSent publishes a message for delivery on the following tick.
	SetSent(data [4]float64)
}

// ShipData is the simulation-side static/mutable data for a ship other
// than its kinematics, which are exposed directly on Ship.
type ShipData struct {
	Class                   ShipClass
	Radar                   Radar  // nil if this ship has no radar
	Target                  *Target
	Radios                  []Radio
	MaxForwardAcceleration  float64
	MaxBackwardAcceleration float64
	MaxLateralAcceleration  float64
	MaxAngularAcceleration  float64
}

// Ship is the simulation's view of one ship: kinematics readers plus
// action mutators the guest's commands are translated into.
type Ship interface {
	Data() *ShipData

	Position() Vec2
	Velocity() Vec2
	Heading() float64
	AngularVelocity() float64

	Accelerate(Vec2)
	Torque(float64)
	Aim(group int, angle float64)
	Fire(group int)
	ActivateAbility(Ability)
	Explode()
}

// Line is a debug line segment, in simulation world coordinates.
type Line struct {
	A, B  Vec2
	Color [4]uint8 // RGBA
}

// Text is debug text drawn at a world position.
type Text struct {
	Position Vec2
	Color    [4]uint8
	Value    string
}

// Simulation is the narrow interface the core consumes from the physics
// simulation. Everything else about ships, radars, and the world is out
// of scope for this core and lives on the other side of this boundary.
type Simulation interface {
	Tick() uint64
	Seed() uint32

	Ship(handle ShipHandle) Ship

	EmitDebugText(handle ShipHandle, text string)
	EmitDebugLines(handle ShipHandle, lines []Line)
	EmitDrawnText(handle ShipHandle, texts []Text)
}
