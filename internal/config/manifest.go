package config

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	pkgconfig "github.com/lodestone-labs/lodestone/pkg/config"
	"github.com/lodestone-labs/lodestone/pkg/types"
)

// LoadManifest reads the WASM module referenced by an indexer entry and
// builds a sealed manifest from it.
func LoadManifest(ic *pkgconfig.IndexerConfig) (*types.IndexerManifest, error) {
	moduleBytes, err := os.ReadFile(ic.ModulePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", ic.ModulePath, err)
	}

	contracts := make([]common.Hash, 0, len(ic.Contracts))
	for _, c := range ic.Contracts {
		contracts = append(contracts, common.HexToHash(c))
	}

	m := &types.IndexerManifest{
		ID: types.IndexerID{
			Namespace: ic.Namespace,
			Name:      ic.Name,
		},
		ModuleBytes:   moduleBytes,
		SchemaVersion: ic.SchemaVersion,
		StartBlock:    ic.StartBlock,
		Contracts:     contracts,
		Resumable:     ic.Resumable,
	}
	m.Seal()

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", m.ID, err)
	}

	return m, nil
}

// LoadManifests builds sealed manifests for every indexer entry in the
// configuration.
func LoadManifests(cfg *pkgconfig.Config) ([]*types.IndexerManifest, error) {
	manifests := make([]*types.IndexerManifest, 0, len(cfg.Indexers))
	for i := range cfg.Indexers {
		m, err := LoadManifest(&cfg.Indexers[i])
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}
