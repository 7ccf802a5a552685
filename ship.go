package shipvm

import "unicode/utf8"

// ShipController holds one ship's handle, a reference to its team's
// shared WasmVm, and the local mirror of SystemState marshalled across
// the host/guest boundary each tick.
type ShipController struct {
	handle ShipHandle
	vm     *WasmVm
	state  LocalSystemState
	cfg    *config
}

func newShipController(handle ShipHandle, vm *WasmVm, cfg *config) *ShipController {
	return &ShipController{handle: handle, vm: vm, cfg: cfg}
}

// seed sets the ship's Seed slot and, if it has a radar, its initial
// radar configuration. Called once when the ship is added to a team.
func (c *ShipController) seed(sim Simulation) {
	c.state.Set(Seed, float64(makeSeed(sim.Seed(), c.handle)&0xffffff))

	ship := sim.Ship(c.handle)
	if radar := ship.Data().Radar; radar != nil {
		c.state.Set(RadarHeading, radar.Heading())
		c.state.Set(RadarWidth, radar.Width())
		c.state.Set(RadarMinDistance, radar.MinDistance())
		c.state.Set(RadarMaxDistance, radar.MaxDistance())
	}
}

// Tick runs one simulation tick for this ship: reset gas, marshal
// SystemState out, call export_tick_ship, marshal SystemState back, and
// apply the guest's commanded actions and debug output to sim. A
// non-nil error means the guest trapped; the caller is expected to
// explode the ship and move on to the next one.
func (c *ShipController) Tick(sim Simulation) error {
	if err := c.vm.ResetGas(c.cfg.gasPerTick); err != nil {
		return err
	}

	c.generateOutbound(sim)
	if err := c.vm.WriteSystemState(&c.state); err != nil {
		return err
	}

	if err := c.vm.TickShip(c.handle.Index); err != nil {
		return err
	}

	if err := c.vm.ReadSystemState(&c.state); err != nil {
		return err
	}
	c.applyInbound(sim)
	c.processDebugOutput(sim)

	return nil
}

// Delete calls export_delete_ship so the guest can release any
// per-ship bookkeeping it keeps keyed by index. A trap here is logged
// and swallowed, never returned: by the time a ship is deleted the
// simulation has already decided its fate, and a guest trap during
// teardown must not block it.
func (c *ShipController) Delete() {
	if err := c.vm.DeleteShip(c.handle.Index); err != nil {
		c.cfg.logger.WithField("ship", c.handle.Index).Warn(err.Error())
	}
}

// generateOutbound populates the local SystemState mirror from the
// simulation's current view of this ship, ready to be written to guest
// memory.
func (c *ShipController) generateOutbound(sim Simulation) {
	ship := sim.Ship(c.handle)
	data := ship.Data()

	c.state.Set(Class, float64(translateClass(data.Class)))

	pos := ship.Position()
	c.state.Set(PositionX, pos.X)
	c.state.Set(PositionY, pos.Y)

	vel := ship.Velocity()
	c.state.Set(VelocityX, vel.X)
	c.state.Set(VelocityY, vel.Y)

	c.state.Set(Heading, ship.Heading())
	c.state.Set(AngularVelocity, ship.AngularVelocity())

	switch {
	case data.Radar != nil:
		radar := data.Radar
		c.state.Set(RadarHeading, radar.Heading())
		c.state.Set(RadarWidth, radar.Width())
		c.state.Set(RadarMinDistance, radar.MinDistance())
		c.state.Set(RadarMaxDistance, radar.MaxDistance())

		if contact := radar.Scan(); contact != nil {
			c.state.Set(RadarContactFound, 1.0)
			c.state.Set(RadarContactPositionX, contact.Position.X)
			c.state.Set(RadarContactPositionY, contact.Position.Y)
			c.state.Set(RadarContactVelocityX, contact.Velocity.X)
			c.state.Set(RadarContactVelocityY, contact.Velocity.Y)
			c.state.Set(RadarContactClass, float64(translateClass(contact.Class)))
		} else {
			c.state.Set(RadarContactFound, 0.0)
		}
	case data.Target != nil:
		// No radar, but a pre-assigned target (e.g. a guided missile):
		// surface its position and velocity through the same contact
		// slots, leaving RadarContactFound at whatever it last was.
		c.state.Set(RadarContactPositionX, data.Target.Position.X)
		c.state.Set(RadarContactPositionY, data.Target.Position.Y)
		c.state.Set(RadarContactVelocityX, data.Target.Velocity.X)
		c.state.Set(RadarContactVelocityY, data.Target.Velocity.Y)
	}

	c.state.Set(MaxForwardAcceleration, data.MaxForwardAcceleration)
	c.state.Set(MaxBackwardAcceleration, data.MaxBackwardAcceleration)
	c.state.Set(MaxLateralAcceleration, data.MaxLateralAcceleration)
	c.state.Set(MaxAngularAcceleration, data.MaxAngularAcceleration)

	for i, radio := range data.Radios {
		if i >= numRadios {
			break
		}
		idx := radioSlots(i)
		c.state.Set(idx.Channel, float64(radio.Channel()))
		if msg, ok := radio.Received(); ok {
			c.state.Set(idx.Receive, 1.0)
			for d := 0; d < 4; d++ {
				c.state.Set(idx.Data[d], msg[d])
			}
		} else {
			c.state.Set(idx.Receive, 0.0)
		}
		c.state.Set(idx.Send, 0.0)
	}

	c.state.Set(CurrentTick, float64(sim.Tick()))
}

// applyInbound translates the guest's commanded actions, read back from
// SystemState after export_tick_ship returned, into calls against the
// simulation. The one-shot command slots (AccelerateX/Y, Torque,
// Fire0..3, Explode) are zeroed after being applied so a guest that
// doesn't touch them this tick doesn't replay last tick's command.
// ActivateAbility is not zeroed: a value the guest leaves in place is
// applied again on the next tick.
func (c *ShipController) applyInbound(sim Simulation) {
	ship := sim.Ship(c.handle)

	ship.Accelerate(Vec2{X: c.state.Get(AccelerateX), Y: c.state.Get(AccelerateY)})
	c.state.Set(AccelerateX, 0.0)
	c.state.Set(AccelerateY, 0.0)

	ship.Torque(c.state.Get(Torque))
	c.state.Set(Torque, 0.0)

	aimFire := [4][2]SystemStateIndex{
		{Aim0, Fire0},
		{Aim1, Fire1},
		{Aim2, Fire2},
		{Aim3, Fire3},
	}
	for group, pair := range aimFire {
		aim, fire := pair[0], pair[1]
		if c.state.Get(fire) > 0.0 {
			ship.Aim(group, c.state.Get(aim))
			ship.Fire(group)
			c.state.Set(fire, 0.0)
		}
	}

	data := ship.Data()
	if radar := data.Radar; radar != nil {
		radar.SetHeading(c.state.Get(RadarHeading))
		radar.SetWidth(c.state.Get(RadarWidth))
		radar.SetMinDistance(c.state.Get(RadarMinDistance))
		radar.SetMaxDistance(c.state.Get(RadarMaxDistance))
	}

	if ability, ok := translateAbility(c.state.Get(ActivateAbility)); ok && ability != AbilityNone {
		ship.ActivateAbility(ability)
	}

	if c.state.Get(Explode) > 0.0 {
		ship.Explode()
		c.state.Set(Explode, 0.0)
	}

	for i, radio := range data.Radios {
		if i >= numRadios {
			break
		}
		idx := radioSlots(i)
		radio.SetChannel(int(c.state.Get(idx.Channel)))
		if c.state.Get(idx.Send) != 0.0 {
			radio.SetSent([4]float64{
				c.state.Get(idx.Data[0]),
				c.state.Get(idx.Data[1]),
				c.state.Get(idx.Data[2]),
				c.state.Get(idx.Data[3]),
			})
		}
	}
}

// processDebugOutput reads and validates any debug text, lines, or
// drawn text the guest produced this tick, emitting whatever survives
// validation. A batch that fails validation (non-finite coordinate, a
// text whose declared length overruns its buffer) is dropped whole.
func (c *ShipController) processDebugOutput(sim Simulation) {
	if n := uint32(c.state.Get(DebugTextLength)); n > 0 {
		ptr := uint32(c.state.Get(DebugTextPointer))
		if raw, err := c.vm.ReadBytes(ptr, n); err == nil && utf8.Valid(raw) {
			sim.EmitDebugText(c.handle, string(raw))
		}
	}

	if n := uint32(c.state.Get(DebugLinesLength)); n > 0 && n <= MaxDebugBatch {
		ptr := uint32(c.state.Get(DebugLinesPointer))
		if raw, err := c.vm.ReadBytes(ptr, n*lineWireSize); err == nil {
			if lines, err := decodeLines(raw, n); err == nil && validateLines(lines) {
				sim.EmitDebugLines(c.handle, lines)
			}
		}
	}

	if n := uint32(c.state.Get(DrawnTextLength)); n > 0 && n <= MaxDebugBatch {
		ptr := uint32(c.state.Get(DrawnTextPointer))
		raw, err := c.vm.ReadBytes(ptr, n*textWireSize)
		if err != nil {
			return
		}
		rawTexts, err := decodeTexts(raw, n)
		if err != nil {
			return
		}
		if texts, ok := validateAndDecodeTexts(rawTexts); ok {
			sim.EmitDrawnText(c.handle, texts)
		}
	}
}
