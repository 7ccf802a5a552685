package shipvm

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"sort"

	"github.com/sirupsen/logrus"
)

// TeamController owns one team's WasmVm and the ShipControllers for
// every ship currently alive on that team. One TeamController exists
// per team; every ShipController it owns shares the same VM instance.
type TeamController struct {
	vm   *WasmVm
	cfg  *config
	ship map[ShipHandle]*ShipController
}

// NewTeamController rewrites and instantiates code (which must be
// Code.Wasm, Code.Builtin naming a registered builtin, or, with
// WithPrecompileSupport, Code.Precompiled) and returns a controller
// ready to have ships added to it.
func NewTeamController(ctx context.Context, code Code, opts ...Option) (*TeamController, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	resolved, err := resolveCode(code)
	if err != nil {
		return nil, err
	}

	vm, err := CreateVm(ctx, resolved, cfg)
	if err != nil {
		return nil, err
	}

	return &TeamController{
		vm:   vm,
		cfg:  cfg,
		ship: make(map[ShipHandle]*ShipController),
	}, nil
}

// AddShip creates a ShipController for handle, seeded from sim's
// current view of the ship (its per-ship seed and, if it has one, its
// radar's initial configuration).
func (t *TeamController) AddShip(handle ShipHandle, sim Simulation) {
	ctrl := newShipController(handle, t.vm, t.cfg)
	ctrl.seed(sim)
	t.ship[handle] = ctrl
}

// RemoveShip calls the ship's export_delete_ship and stops tracking it.
func (t *TeamController) RemoveShip(handle ShipHandle) {
	ctrl, ok := t.ship[handle]
	if !ok {
		return
	}
	ctrl.Delete()
	delete(t.ship, handle)
}

// Tick runs every live ship's controller in ascending handle-index
// order — independent of map iteration order, so this team's ships
// observe the simulation in the same relative order every tick. A
// ship whose tick traps is exploded and the rest of the team continues
// uninterrupted.
func (t *TeamController) Tick(sim Simulation) {
	handles := make([]ShipHandle, 0, len(t.ship))
	for h := range t.ship {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Less(handles[j]) })

	for _, h := range handles {
		ctrl := t.ship[h]
		if err := ctrl.Tick(sim); err != nil {
			t.cfg.logger.WithFields(logrus.Fields{
				"ship":  h.Index,
				"error": err,
			}).Warn("ship tick failed")
			sim.Ship(h).Explode()
		}
	}
}

// Close releases the team's WasmVm. Call once every ship has been
// removed.
func (t *TeamController) Close() error {
	return t.vm.Close()
}

// resolveCode follows a chain of Code.Builtin indirections down to the
// Code.Wasm or Code.Precompiled it ultimately names. Any other kind is
// returned unchanged; Code.None and Code.Source are then rejected by
// CreateVm's explicit cases, since those two mean "there is nothing
// runnable yet" and "this still needs to go through the sanitizer and
// compiler," respectively — neither is this core's job to recover from
// silently.
func resolveCode(code Code) (Code, error) {
	for code.Kind == CodeBuiltin {
		next, err := LoadBuiltin(code.BuiltinName)
		if err != nil {
			return Code{}, err
		}
		code = next
	}
	return code, nil
}

// makeSeed derives a ship's per-ship RNG seed from the simulation's
// global seed and the ship's handle. Rust's std::hash::DefaultHasher
// (what the original uses here) has no portable Go equivalent and
// cross-host bit-compatibility with it is out of scope, so this uses
// FNV-1a over the same three fields instead: a real, deterministic,
// well-distributed hash rather than a hand-rolled one.
func makeSeed(simSeed uint32, handle ShipHandle) int64 {
	h := fnv.New64a()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], simSeed)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], handle.Index)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], handle.Generation)
	h.Write(buf[:])
	return int64(h.Sum64())
}
