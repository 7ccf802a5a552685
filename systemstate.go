package shipvm

import "math"

// SystemStateIndex enumerates the slots of the fixed-length f64 array
// shared with the guest at the SYSTEM_STATE linear-memory offset. The
// numeric values are part of the guest ABI and must never be reordered
// once a guest toolchain depends on them.
type SystemStateIndex uint32

const numRadios = 4

// radioStride is the number of slots each radio channel occupies:
// channel, send, receive, data0..data3.
const radioStride = 7

const (
	Class SystemStateIndex = iota
	PositionX
	PositionY
	VelocityX
	VelocityY
	Heading
	AngularVelocity

	AccelerateX
	AccelerateY
	Torque

	Aim0
	Aim1
	Aim2
	Aim3
	Fire0
	Fire1
	Fire2
	Fire3

	RadarHeading
	RadarWidth
	RadarMinDistance
	RadarMaxDistance
	RadarContactFound
	RadarContactPositionX
	RadarContactPositionY
	RadarContactVelocityX
	RadarContactVelocityY
	RadarContactClass

	MaxForwardAcceleration
	MaxBackwardAcceleration
	MaxLateralAcceleration
	MaxAngularAcceleration

	radioBase // radios occupy [radioBase, radioBase+numRadios*radioStride)
)

// Fixed slots that follow the radio block.
const (
	DebugTextPointer = radioBase + numRadios*radioStride + SystemStateIndex(iota)
	DebugTextLength
	DebugLinesPointer
	DebugLinesLength
	DrawnTextPointer
	DrawnTextLength
	CurrentTick
	Seed
	Explode
	ActivateAbility

	// systemStateSizeSentinel is one past the last valid slot.
	systemStateSizeSentinel
)

// SystemStateSize is the length of LocalSystemState.state and the number
// of doubles copied to/from guest memory each tick.
const SystemStateSize = int(systemStateSizeSentinel)

// Per-radio slot offsets, relative to a radio's base index.
const (
	radioOffChannel = SystemStateIndex(iota)
	radioOffSend
	radioOffReceive
	radioOffData0
	radioOffData1
	radioOffData2
	radioOffData3
)

// radioIndices is the absolute SystemStateIndex for each slot of one radio.
type radioIndices struct {
	Channel SystemStateIndex
	Send    SystemStateIndex
	Receive SystemStateIndex
	Data    [4]SystemStateIndex
}

// radioSlots returns the absolute indices for radio i (0-based, i <
// numRadios).
func radioSlots(i int) radioIndices {
	base := radioBase + SystemStateIndex(i)*radioStride
	return radioIndices{
		Channel: base + radioOffChannel,
		Send:    base + radioOffSend,
		Receive: base + radioOffReceive,
		Data: [4]SystemStateIndex{
			base + radioOffData0,
			base + radioOffData1,
			base + radioOffData2,
			base + radioOffData3,
		},
	}
}

// GasPerTick is the per-tick virtual-instruction budget enforced by the
// limiter's instrumentation.
const GasPerTick int32 = 1_000_000

// MaxDebugBatch is the inclusive upper bound on DebugLinesLength and
// DrawnTextLength; a guest that writes a larger count has its whole
// debug batch silently dropped.
const MaxDebugBatch = 128

// LocalSystemState is the host's mirror of the guest's SYSTEM_STATE
// array. Get reads sanitize NaN/±∞ to 0.0; Set stores as-is.
type LocalSystemState struct {
	state [SystemStateSize]float64
}

// Get returns the slot's value, coercing NaN and ±Inf to 0.0 so that no
// non-finite value ever crosses into the simulation via this path.
func (s *LocalSystemState) Get(idx SystemStateIndex) float64 {
	v := s.state[idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return v
}

// Set stores value as-is; a later Get still applies the NaN/Inf coercion.
func (s *LocalSystemState) Set(idx SystemStateIndex, value float64) {
	s.state[idx] = value
}

// Slots exposes the backing array for bulk copy to/from guest memory.
func (s *LocalSystemState) Slots() *[SystemStateSize]float64 {
	return &s.state
}
