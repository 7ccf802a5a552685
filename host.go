package shipvm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// registerHostImports instantiates the host-side modules a guest module
// may import. The guest ABI itself requires none — tick_ship/delete_ship/
// reset_gas/memory/SYSTEM_STATE are all guest exports, not host imports —
// but guest toolchains that target wasm32-wasi (the common case for a
// Rust guest built with the standard library rather than #![no_std])
// still reference wasi_snapshot_preview1 for process bootstrap even
// though this runtime never lets a guest touch the filesystem, clock, or
// environment beyond what SystemState hands it.
func registerHostImports(ctx context.Context, r wazero.Runtime, useWASI bool) error {
	if !useWASI {
		return nil
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("shipvm: failed to instantiate wasi_snapshot_preview1: %w", err)
	}
	return nil
}
