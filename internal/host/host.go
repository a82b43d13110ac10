// Package host runs compiled indexer modules inside a WASM sandbox.
// The guest receives an explicit import table and nothing else: no
// clock, no randomness, no filesystem. Identical block bytes against
// identical committed state must stage identical entities.
package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/lodestone-labs/lodestone/internal/logger"
	"github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// SupportedABIVersion is the module ABI this host speaks. The guest
// reports its version through the abi_version export at instantiation.
const SupportedABIVersion = 1

// Guest exports every module must provide.
const (
	exportMemory     = "memory"
	exportAlloc      = "alloc_fn"
	exportHandler    = "handle_block"
	exportABIVersion = "abi_version"
)

// guestSignatures pins the exact wasm type of every required export.
// Load rejects a module whose exports exist under the right names but
// with the wrong signatures; calling such a function would corrupt the
// call protocol instead of failing cleanly.
var guestSignatures = map[string]struct {
	params  []api.ValueType
	results []api.ValueType
}{
	exportAlloc:      {params: []api.ValueType{api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}},
	exportHandler:    {params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}},
	exportABIVersion: {results: []api.ValueType{api.ValueTypeI32}},
}

func signatureString(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = api.ValueTypeName(t)
		}
		return strings.Join(out, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", names(params), names(results))
}

// EntityReader is the committed-state lookup get_entity falls through
// to when a key was not staged in the current block.
type EntityReader interface {
	GetEntity(namespace string, typeID uint32, key []byte) (*types.Entity, error)
}

// Host owns the WASM runtime and the instance capacity pool shared by
// every indexer.
type Host struct {
	runtime wazero.Runtime
	cfg     config.RuntimeConfig
	reader  EntityReader
	log     *logger.Logger

	// capacity pool; one slot per live instance
	slots chan struct{}
}

// NewHost creates the shared module host.
func NewHost(ctx context.Context, cfg config.RuntimeConfig, reader EntityReader, log *logger.Logger) (*Host, error) {
	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MaxMemoryPages).
		WithCloseOnContextDone(true)

	h := &Host{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     cfg,
		reader:  reader,
		log:     log.WithComponent("module-host"),
		slots:   make(chan struct{}, cfg.MaxInstances),
	}

	if err := h.instantiateEnv(ctx); err != nil {
		_ = h.runtime.Close(ctx)
		return nil, err
	}

	return h, nil
}

// Module is a compiled, validated indexer module ready to instantiate.
type Module struct {
	compiled wazero.CompiledModule
	manifest *types.IndexerManifest
}

// Digest returns the hex sha256 of the module bytes.
func (m *Module) Digest() string {
	return m.manifest.ModuleDigest
}

// Load compiles the manifest's module bytes and checks the export
// surface. A module that fails here never starts.
func (h *Host) Load(ctx context.Context, manifest *types.IndexerManifest) (*Module, error) {
	sum := sha256.Sum256(manifest.ModuleBytes)
	if digest := hex.EncodeToString(sum[:]); digest != manifest.ModuleDigest {
		return nil, fmt.Errorf("%w: module bytes do not match manifest digest", engine.ErrInvalidModule)
	}

	compiled, err := h.runtime.CompileModule(ctx, manifest.ModuleBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidModule, err)
	}

	exported := compiled.ExportedFunctions()
	for _, name := range []string{exportAlloc, exportHandler, exportABIVersion} {
		def, ok := exported[name]
		if !ok {
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("%w: missing export %q", engine.ErrInvalidModule, name)
		}
		want := guestSignatures[name]
		if !slices.Equal(def.ParamTypes(), want.params) || !slices.Equal(def.ResultTypes(), want.results) {
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("%w: export %q has signature %s, want %s",
				engine.ErrInvalidModule, name,
				signatureString(def.ParamTypes(), def.ResultTypes()),
				signatureString(want.params, want.results))
		}
	}
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("%w: missing exported memory", engine.ErrInvalidModule)
	}

	h.log.Infof("module loaded: indexer=%s, digest=%s, size=%d",
		manifest.ID, manifest.ModuleDigest, len(manifest.ModuleBytes))

	return &Module{compiled: compiled, manifest: manifest}, nil
}

// acquireSlot reserves one instance slot or fails with
// ErrResourceExhausted when the pool is full.
func (h *Host) acquireSlot(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case h.slots <- struct{}{}:
		return func() { <-h.slots }, nil
	default:
		return nil, fmt.Errorf("%w: instance pool at capacity (%d)", engine.ErrResourceExhausted, h.cfg.MaxInstances)
	}
}

// Close tears down the runtime and every live instance.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}
