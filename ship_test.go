package shipvm

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	deepcopy "github.com/barkimedes/go-deepcopy"

	"github.com/jamesgraves/shipvm/internal/simfixture"
)

// baseShipData is a template ShipData shared across table cases below;
// each subtest deep-clones it so that mutating one case's Radar or
// Radios slice can never leak into another.
var baseShipData = ShipData{
	Class: ShipClassFighter,
	Radios: []Radio{
		&fakeRadio{},
	},
	MaxForwardAcceleration:  100,
	MaxBackwardAcceleration: 50,
	MaxLateralAcceleration:  75,
	MaxAngularAcceleration:  1,
}

// fakeRadio's fields are exported so deepcopy.Anything (reflection-based)
// can clone it field by field without needing unsafe tricks for
// unexported fields.
type fakeRadio struct {
	Channel_  int
	Received_ *[4]float64
	Sent_     [4]float64
}

func (r *fakeRadio) Channel() int     { return r.Channel_ }
func (r *fakeRadio) SetChannel(c int) { r.Channel_ = c }
func (r *fakeRadio) SetSent(d [4]float64) {
	r.Sent_ = d
}
func (r *fakeRadio) Received() (data [4]float64, ok bool) {
	if r.Received_ == nil {
		return [4]float64{}, false
	}
	return *r.Received_, true
}

func cloneShipData(t *testing.T, src ShipData) ShipData {
	t.Helper()
	cloned, ok := deepcopy.Anything(src).(ShipData)
	if !ok {
		t.Fatalf("deepcopy.Anything did not return a ShipData")
	}
	return cloned
}

func TestShipDataCloneIsIndependent(t *testing.T) {
	cases := []struct {
		name    string
		channel int
	}{
		{"channel-zero", 0},
		{"channel-three", 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := cloneShipData(t, baseShipData)
			radio := data.Radios[0].(*fakeRadio)
			radio.SetChannel(tc.channel)

			if baseRadio := baseShipData.Radios[0].(*fakeRadio); baseRadio.Channel() != 0 {
				t.Fatalf("mutating a cloned ShipData's radio leaked into the shared template (channel=%d)", baseRadio.Channel())
			}
			if got := data.Radios[0].(*fakeRadio).Channel(); got != tc.channel {
				t.Errorf("Channel() = %d, want %d", got, tc.channel)
			}
		})
	}
}

func TestTranslateClassMapsPlanetToUnknown(t *testing.T) {
	if got := translateClass(ShipClassPlanet); got != ClassUnknown {
		t.Errorf("translateClass(Planet) = %v, want ClassUnknown", got)
	}
	if got := translateClass(ShipClassFighter); got != ClassFighter {
		t.Errorf("translateClass(Fighter) = %v, want ClassFighter", got)
	}
}

func TestTranslateAbilityRejectsGarbageValues(t *testing.T) {
	if _, ok := translateAbility(999); ok {
		t.Error("expected an out-of-range ability value to report ok=false")
	}
	if a, ok := translateAbility(float64(AbilityShield)); !ok || a != AbilityShield {
		t.Errorf("translateAbility(Shield) = (%v, %v), want (AbilityShield, true)", a, ok)
	}
}

// sleb encodes v as signed LEB128, for hand-assembling i32.const
// immediates in the fixture modules below (mirrors limiter's own
// putSLEB128, unexported in that package, so duplicated here at test
// scope rather than exported just for this).
func sleb(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func f64le(f float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
	return b[:]
}

// storeF64 emits `i32.const addr; f64.const val; f64.store align=3 offset=0`.
func storeF64(addr int64, val float64) []byte {
	return concatB(
		idleByte(0x41), sleb(addr),
		idleByte(0x44), f64le(val),
		idleByte(0x39), uleb(3), uleb(0),
	)
}

// storeByte emits `i32.const addr; i32.const v; i32.store8 align=0 offset=0`.
func storeByte(addr int64, v int64) []byte {
	return concatB(
		idleByte(0x41), sleb(addr),
		idleByte(0x41), sleb(v),
		idleByte(0x3A), uleb(0), uleb(0),
	)
}

// buildActionWriterModule is shaped like buildIdleModule, but
// export_tick_ship unconditionally stores into Fire0, AccelerateX, and
// Explode every time it's called — a stand-in for a guest program that
// always commands the same actions, used to exercise the real
// SystemState round trip (host write -> guest -> host read -> apply ->
// zero) rather than the no-op idle fixture.
func buildActionWriterModule() []byte {
	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6d)
	out = append(out, 0x01, 0x00, 0x00, 0x00)

	typeSec := idleSection(idleByte(1), idleVec(idleByte(1), concatB(
		idleByte(0x60), idleVec(idleByte(1), idleByte(0x7f)), idleVec(idleByte(0), nil),
	)))
	out = append(out, typeSec...)

	funcSec := idleSection(idleByte(3), idleVec(idleByte(2), concatB(idleByte(0), idleByte(0))))
	out = append(out, funcSec...)

	memSec := idleSection(idleByte(5), idleVec(idleByte(1), concatB(idleByte(0x00), uleb(1))))
	out = append(out, memSec...)

	globalEntry := concatB(idleByte(0x7f), idleByte(0x00), idleByte(0x41), uleb(0), idleByte(0x0b))
	globalSec := idleSection(idleByte(6), idleVec(idleByte(1), globalEntry))
	out = append(out, globalSec...)

	exports := concatB(
		idleExport("memory", 0x02, 0),
		idleExport("SYSTEM_STATE", 0x03, 0),
		idleExport(exportTickShip, 0x00, 0),
		idleExport(exportDeleteShip, 0x00, 1),
	)
	exportSec := idleSection(idleByte(7), idleVec(idleByte(4), exports))
	out = append(out, exportSec...)

	tickBody := concatB(
		idleByte(0),
		storeF64(int64(Fire0)*8, 1.0),
		storeF64(int64(AccelerateX)*8, 5.0),
		storeF64(int64(Explode)*8, 1.0),
		idleByte(0x0b),
	)
	tickBodySized := concatB(uleb(uint64(len(tickBody))), tickBody)
	emptyBody := idleVec(idleByte(0), idleByte(0x0b))
	emptyBodySized := concatB(uleb(uint64(len(emptyBody))), emptyBody)
	codeSec := idleSection(idleByte(10), idleVec(idleByte(2), concatB(tickBodySized, emptyBodySized)))
	out = append(out, codeSec...)

	return out
}

// buildDebugTextInvalidUTF8Module writes two bytes that do not form
// valid UTF-8 (0xFF then 0xFE, neither of which ever occurs in UTF-8) at a fixed
// memory address and points DebugTextPointer/DebugTextLength at them,
// to regression-test that processDebugOutput drops an invalid batch
// instead of emitting a lossily-converted string.
func buildDebugTextInvalidUTF8Module() []byte {
	const destAddr = 600

	var out []byte
	out = append(out, 0x00, 0x61, 0x73, 0x6d)
	out = append(out, 0x01, 0x00, 0x00, 0x00)

	typeSec := idleSection(idleByte(1), idleVec(idleByte(1), concatB(
		idleByte(0x60), idleVec(idleByte(1), idleByte(0x7f)), idleVec(idleByte(0), nil),
	)))
	out = append(out, typeSec...)

	funcSec := idleSection(idleByte(3), idleVec(idleByte(2), concatB(idleByte(0), idleByte(0))))
	out = append(out, funcSec...)

	memSec := idleSection(idleByte(5), idleVec(idleByte(1), concatB(idleByte(0x00), uleb(1))))
	out = append(out, memSec...)

	globalEntry := concatB(idleByte(0x7f), idleByte(0x00), idleByte(0x41), uleb(0), idleByte(0x0b))
	globalSec := idleSection(idleByte(6), idleVec(idleByte(1), globalEntry))
	out = append(out, globalSec...)

	exports := concatB(
		idleExport("memory", 0x02, 0),
		idleExport("SYSTEM_STATE", 0x03, 0),
		idleExport(exportTickShip, 0x00, 0),
		idleExport(exportDeleteShip, 0x00, 1),
	)
	exportSec := idleSection(idleByte(7), idleVec(idleByte(4), exports))
	out = append(out, exportSec...)

	tickBody := concatB(
		idleByte(0),
		storeByte(destAddr, -1),   // 0xFF
		storeByte(destAddr+1, -2), // 0xFE, also never valid in UTF-8
		storeF64(int64(DebugTextPointer)*8, float64(destAddr)),
		storeF64(int64(DebugTextLength)*8, 2.0),
		idleByte(0x0b),
	)
	tickBodySized := concatB(uleb(uint64(len(tickBody))), tickBody)
	emptyBody := idleVec(idleByte(0), idleByte(0x0b))
	emptyBodySized := concatB(uleb(uint64(len(emptyBody))), emptyBody)
	codeSec := idleSection(idleByte(10), idleVec(idleByte(2), concatB(tickBodySized, emptyBodySized)))
	out = append(out, codeSec...)

	return out
}

func TestShipTickAppliesAndZeroesGuestWrittenActions(t *testing.T) {
	team, err := NewTeamController(context.Background(), NewCodeWasm(buildActionWriterModule()))
	if err != nil {
		t.Fatalf("NewTeamController(action writer): %v", err)
	}
	t.Cleanup(func() {
		if err := team.Close(); err != nil {
			t.Errorf("team.Close: %v", err)
		}
	})

	sim := simfixture.New(1)
	handle := ShipHandle{Index: 0, Generation: 1}
	sim.AddShip(handle, ShipData{Class: ShipClassFighter})
	team.AddShip(handle, sim)

	sim.Advance()
	team.Tick(sim)

	ship := sim.Ship(handle).(*simfixture.Ship)
	if len(ship.FiredGroups) != 1 || ship.FiredGroups[0] != 0 {
		t.Fatalf("FiredGroups = %v, want [0]", ship.FiredGroups)
	}
	if v := ship.Velocity(); v.X != 5.0 {
		t.Fatalf("Velocity().X = %v, want 5 (Accelerate applied)", v.X)
	}
	if !ship.Exploded {
		t.Fatal("Explode slot should have triggered ship.Explode()")
	}

	ctrl := team.ship[handle]
	if got := ctrl.state.Get(Fire0); got != 0.0 {
		t.Errorf("Fire0 = %v after apply, want 0 (zeroed)", got)
	}
	if got := ctrl.state.Get(AccelerateX); got != 0.0 {
		t.Errorf("AccelerateX = %v after apply, want 0 (zeroed)", got)
	}
	if got := ctrl.state.Get(Explode); got != 0.0 {
		t.Errorf("Explode = %v after apply, want 0 (zeroed)", got)
	}

	// A second tick re-fires from the same always-on guest body,
	// confirming the round trip is repeatable, not a one-shot artifact
	// of not having zeroed the first time.
	sim.Advance()
	team.Tick(sim)
	if len(ship.FiredGroups) != 2 {
		t.Fatalf("FiredGroups after second tick = %v, want 2 entries", ship.FiredGroups)
	}
	if v := ship.Velocity(); v.X != 10.0 {
		t.Fatalf("Velocity().X after second tick = %v, want 10", v.X)
	}
}

func TestProcessDebugOutputDropsInvalidUTF8(t *testing.T) {
	team, err := NewTeamController(context.Background(), NewCodeWasm(buildDebugTextInvalidUTF8Module()))
	if err != nil {
		t.Fatalf("NewTeamController(invalid utf8 writer): %v", err)
	}
	t.Cleanup(func() {
		if err := team.Close(); err != nil {
			t.Errorf("team.Close: %v", err)
		}
	})

	sim := simfixture.New(1)
	handle := ShipHandle{Index: 0, Generation: 1}
	sim.AddShip(handle, ShipData{Class: ShipClassFighter})
	team.AddShip(handle, sim)

	sim.Advance()
	team.Tick(sim)

	if len(sim.DebugTexts) != 0 {
		t.Fatalf("expected an invalid-UTF-8 debug text batch to be dropped, got %v", sim.DebugTexts)
	}
}
