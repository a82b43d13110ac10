package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/lodestone-labs/lodestone/internal/wire"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// execStateKey carries the per-call execution state through the context
// into the env host functions.
type execStateKey struct{}

// execState is the mutable state of one block-handler call.
type execState struct {
	host      *Host
	namespace string
	staged    *collector
	alloc     api.Function

	earlyExit bool
	userCode  uint32
	exhausted bool
	hostErr   error
}

func stateFromContext(ctx context.Context) *execState {
	st, _ := ctx.Value(execStateKey{}).(*execState)
	return st
}

// instantiateEnv registers the host import surface. Each function pulls
// its call state out of the context, so one env module serves every
// instance.
func (h *Host) instantiateEnv(ctx context.Context) error {
	_, err := h.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(hostPutEntity).Export("put_entity").
		NewFunctionBuilder().WithFunc(hostGetEntity).Export("get_entity").
		NewFunctionBuilder().WithFunc(hostLogMessage).Export("log_message").
		NewFunctionBuilder().WithFunc(hostEarlyExit).Export("early_exit").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("failed to instantiate env module: %w", err)
	}
	return nil
}

// hostPutEntity stages one encoded entity for the current block.
// Returns 0 on success, 1 on a malformed record.
func hostPutEntity(ctx context.Context, mod api.Module, typeID, ptr, length uint32) uint32 {
	st := stateFromContext(ctx)
	if st == nil {
		return 1
	}

	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		st.hostErr = fmt.Errorf("put_entity: guest pointer out of range (ptr=%d, len=%d)", ptr, length)
		_ = mod.CloseWithExitCode(ctx, internalExitCode)
		return 1
	}

	entity, err := wire.DecodeEntity(data)
	if err != nil {
		st.hostErr = fmt.Errorf("put_entity: malformed record: %w", err)
		return 1
	}
	if entity.TypeID != typeID {
		st.hostErr = fmt.Errorf("put_entity: record type %d does not match argument %d", entity.TypeID, typeID)
		return 1
	}

	if err := st.staged.add(entity, len(data)); err != nil {
		st.exhausted = true
		_ = mod.CloseWithExitCode(ctx, internalExitCode)
		return 1
	}

	return 0
}

// hostGetEntity looks a key up in the staged set first, then in
// committed storage. The result is written into guest memory allocated
// through the module's own allocator; the return packs (ptr << 32 |
// len), 0 meaning not found.
func hostGetEntity(ctx context.Context, mod api.Module, typeID, keyPtr, keyLen uint32) uint64 {
	st := stateFromContext(ctx)
	if st == nil {
		return 0
	}

	key, ok := mod.Memory().Read(keyPtr, keyLen)
	if !ok {
		st.hostErr = fmt.Errorf("get_entity: guest pointer out of range (ptr=%d, len=%d)", keyPtr, keyLen)
		_ = mod.CloseWithExitCode(ctx, internalExitCode)
		return 0
	}

	entity := st.staged.lookup(typeID, key)
	if entity == nil && st.host.reader != nil {
		stored, err := st.host.reader.GetEntity(st.namespace, typeID, key)
		if err == nil {
			entity = stored
		}
	}
	if entity == nil {
		return 0
	}

	encoded := wire.EncodeEntity(entity)

	results, err := st.alloc.Call(ctx, uint64(len(encoded)))
	if err != nil || len(results) == 0 {
		st.hostErr = fmt.Errorf("get_entity: guest allocation failed: %v", err)
		return 0
	}
	outPtr := uint32(results[0])

	if !mod.Memory().Write(outPtr, encoded) {
		st.hostErr = fmt.Errorf("get_entity: guest allocation out of range (ptr=%d, len=%d)", outPtr, len(encoded))
		_ = mod.CloseWithExitCode(ctx, internalExitCode)
		return 0
	}

	return uint64(outPtr)<<32 | uint64(len(encoded))
}

// hostLogMessage forwards a guest log line to the host logger.
func hostLogMessage(ctx context.Context, mod api.Module, level, ptr, length uint32) {
	st := stateFromContext(ctx)
	if st == nil {
		return
	}

	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return
	}

	log := st.host.log
	switch level {
	case 0:
		log.Debugf("module: %s", msg)
	case 1:
		log.Infof("module: %s", msg)
	case 2:
		log.Warnf("module: %s", msg)
	default:
		log.Errorf("module: %s", msg)
	}
}

// hostEarlyExit aborts the current block without treating it as a
// crash. Entities staged before the exit still commit.
func hostEarlyExit(ctx context.Context, mod api.Module, code uint32) {
	st := stateFromContext(ctx)
	if st != nil {
		st.earlyExit = true
		st.userCode = code
	}
	_ = mod.CloseWithExitCode(ctx, code)
}

// internalExitCode closes the instance for host-detected violations.
// It never collides with user early-exit because earlyExit is not set.
const internalExitCode = 0xFFFF_FFFF

// Instance is one live sandbox bound to one ingestion loop.
// It implements the engine.Executor interface.
type Instance struct {
	host      *Host
	module    *Module
	mod       api.Module
	alloc     api.Function
	handler   api.Function
	namespace string
	release   func()
	closed    bool
}

// Instantiate allocates fresh linear memory for the module and checks
// its ABI version. Fails with ErrResourceExhausted when the capacity
// pool is full.
func (h *Host) Instantiate(ctx context.Context, module *Module) (*Instance, error) {
	release, err := h.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	modCfg := wazero.NewModuleConfig().
		WithName(""). // anonymous, many instances per compiled module
		WithStartFunctions()

	mod, err := h.runtime.InstantiateModule(ctx, module.compiled, modCfg)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: %v", engine.ErrResourceExhausted, err)
	}

	abiFn := mod.ExportedFunction(exportABIVersion)
	results, err := abiFn.Call(ctx)
	if err != nil || len(results) == 0 {
		_ = mod.Close(ctx)
		release()
		return nil, fmt.Errorf("%w: abi_version call failed: %v", engine.ErrInvalidModule, err)
	}
	if version := uint32(results[0]); version != SupportedABIVersion {
		_ = mod.Close(ctx)
		release()
		return nil, fmt.Errorf("%w: module reports %d, host speaks %d",
			engine.ErrUnsupportedABIVersion, version, SupportedABIVersion)
	}

	return &Instance{
		host:      h,
		module:    module,
		mod:       mod,
		alloc:     mod.ExportedFunction(exportAlloc),
		handler:   mod.ExportedFunction(exportHandler),
		namespace: module.manifest.ID.Namespace,
		release:   release,
	}, nil
}

// Compile-time check to ensure Instance implements the engine.Executor interface.
var _ engine.Executor = (*Instance)(nil)

// Execute satisfies engine.Executor.
func (i *Instance) Execute(ctx context.Context, block *types.Block, events []types.Event) (*engine.ExecutionResult, error) {
	return i.CallBlockHandler(ctx, block, events)
}

// CallBlockHandler encodes the block, hands it to the guest and
// classifies the outcome. On any status other than Success the instance
// is closed and must be recreated for the next attempt.
func (i *Instance) CallBlockHandler(ctx context.Context, block *types.Block, events []types.Event) (*engine.ExecutionResult, error) {
	if i.closed {
		return nil, engine.ErrStopped
	}

	blockBytes := wire.EncodeBlock(block, events)

	st := &execState{
		host:      i.host,
		namespace: i.namespace,
		staged:    newCollector(i.host.cfg.MaxStagedBytes()),
		alloc:     i.alloc,
	}

	callCtx := context.WithValue(ctx, execStateKey{}, st)
	callCtx, cancel := context.WithTimeout(callCtx, i.host.cfg.CallTimeout.Duration)
	defer cancel()

	results, err := i.alloc.Call(callCtx, uint64(len(blockBytes)))
	if err != nil {
		return i.classify(ctx, st, err), nil
	}
	if len(results) == 0 {
		i.discard(ctx)
		return &engine.ExecutionResult{
			Status: engine.StatusTrap,
			Err:    &engine.TrapError{Cause: errors.New("alloc_fn returned no value")},
		}, nil
	}
	ptr := uint32(results[0])

	if !i.mod.Memory().Write(ptr, blockBytes) {
		i.discard(ctx)
		return &engine.ExecutionResult{
			Status: engine.StatusTrap,
			Err:    fmt.Errorf("block buffer does not fit guest allocation (ptr=%d, len=%d)", ptr, len(blockBytes)),
		}, nil
	}

	_, err = i.handler.Call(callCtx, uint64(ptr), uint64(len(blockBytes)))
	return i.classify(ctx, st, err), nil
}

// classify maps a guest call error onto an ExecutionResult.
func (i *Instance) classify(ctx context.Context, st *execState, err error) *engine.ExecutionResult {
	switch {
	case err == nil:
		return &engine.ExecutionResult{
			Status:   engine.StatusSuccess,
			Entities: st.staged.drain(),
		}

	case st.earlyExit:
		// Explicit early exit commits what was staged before it.
		i.discard(ctx)
		return &engine.ExecutionResult{
			Status:   engine.StatusUserError,
			UserCode: st.userCode,
			Entities: st.staged.drain(),
		}

	case st.exhausted:
		i.discard(ctx)
		return &engine.ExecutionResult{
			Status: engine.StatusResourceExhausted,
			Err:    fmt.Errorf("staged entity budget exceeded (%d bytes)", i.host.cfg.MaxStagedBytes()),
		}

	case errors.Is(err, context.DeadlineExceeded), isDeadlineExit(err):
		i.discard(ctx)
		return &engine.ExecutionResult{
			Status: engine.StatusTimeout,
			Err:    fmt.Errorf("block handler exceeded %s", i.host.cfg.CallTimeout.Duration),
		}

	default:
		i.discard(ctx)
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && st.hostErr != nil {
			// Host closed the instance after a protocol violation.
			return &engine.ExecutionResult{
				Status: engine.StatusTrap,
				Err:    &engine.TrapError{Cause: st.hostErr},
			}
		}
		return &engine.ExecutionResult{
			Status: engine.StatusTrap,
			Err:    &engine.TrapError{Cause: err},
		}
	}
}

// isDeadlineExit reports whether the runtime tore the call down because
// the call context hit its deadline.
func isDeadlineExit(err error) bool {
	var exitErr *sys.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded
}

// discard closes the instance and frees its pool slot.
func (i *Instance) discard(ctx context.Context) {
	if i.closed {
		return
	}
	i.closed = true
	_ = i.mod.Close(ctx)
	i.release()
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	i.discard(ctx)
	return nil
}
