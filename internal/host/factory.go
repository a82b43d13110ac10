package host

import (
	"context"

	"github.com/lodestone-labs/lodestone/internal/ingest"
	"github.com/lodestone-labs/lodestone/pkg/engine"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// InstanceFactory creates fresh sandboxes for one loaded module. It
// satisfies the ingestion loop's executor provider contract.
type InstanceFactory struct {
	host   *Host
	module *Module
}

// NewInstanceFactory binds a loaded module to the shared host.
func (h *Host) NewInstanceFactory(module *Module) *InstanceFactory {
	return &InstanceFactory{host: h, module: module}
}

// NewExecutor instantiates the module.
func (f *InstanceFactory) NewExecutor(ctx context.Context) (engine.Executor, error) {
	return f.host.Instantiate(ctx, f.module)
}

// LoadProvider compiles the manifest's module and returns a factory for
// it, as the supervisor expects.
func (h *Host) LoadProvider(ctx context.Context, manifest *types.IndexerManifest) (ingest.ExecutorProvider, error) {
	module, err := h.Load(ctx, manifest)
	if err != nil {
		return nil, err
	}
	return h.NewInstanceFactory(module), nil
}
