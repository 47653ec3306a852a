package engine

import (
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
)

// wasmPageSize is the WebAssembly linear memory page size.
const wasmPageSize = 65536

// CheckModule validates a compiled module's declared memories against the
// configured limits, so a module incompatible with the pool's fixed slot
// sizing is refused at load time with a descriptive error instead of
// failing mid-instantiation.
//
// Only memories are probed: wazero's CompiledModule exposes memory
// definitions but not table definitions, so table sizing is enforced at
// allocation time instead, where an oversized initial count is rejected
// with the same configuration error kind.
func CheckModule(compiled wazero.CompiledModule, limits wasmpool.Limits) error {
	slotCap := limits.MaxMemoryBytes
	check := func(def api.MemoryDefinition) error {
		minBytes := uint64(def.Min()) * wasmPageSize
		if minBytes > slotCap {
			return errors.New(errors.PhaseProbe, errors.KindConfiguration).
				Pool("memory").
				Detail("module requires at least %d bytes of memory but the configured slot capacity is %d", minBytes, slotCap).
				Value(minBytes).
				Build()
		}
		return nil
	}

	for _, def := range compiled.ImportedMemories() {
		if err := check(def); err != nil {
			return err
		}
	}
	for _, def := range compiled.ExportedMemories() {
		if err := check(def); err != nil {
			return err
		}
	}
	return nil
}
