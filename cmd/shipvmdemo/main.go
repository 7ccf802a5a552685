// Command shipvmdemo wires a TeamController against a fixture
// Simulation and the "idle" builtin to demonstrate one full tick:
// seed a ship, run it, and print what, if anything, it did.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jamesgraves/shipvm"
	"github.com/jamesgraves/shipvm/internal/simfixture"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shipvmdemo:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	team, err := shipvm.NewTeamController(ctx, shipvm.NewCodeBuiltin("idle"), shipvm.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create team controller: %w", err)
	}
	defer func() {
		if err := team.Close(); err != nil {
			logger.WithError(err).Warn("failed to close team controller")
		}
	}()

	sim := simfixture.New(42)
	handle := shipvm.ShipHandle{Index: 0, Generation: 1}
	sim.AddShip(handle, shipvm.ShipData{Class: shipvm.ShipClassFighter})
	team.AddShip(handle, sim)

	sim.Advance()
	team.Tick(sim)

	fmt.Printf("tick %d: ship %d at %+v\n", sim.Tick(), handle.Index, sim.Ship(handle).Position())
	for _, t := range sim.DebugTexts {
		fmt.Printf("  debug text from ship %d: %s\n", t.Handle.Index, t.Text)
	}

	team.RemoveShip(handle)
	return nil
}
