// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"

	"github.com/kadirpekel/reagent/pkg/config"
)

// New builds the Store selected by cfg.Provider. dim is the embedder
// dimension; 0 defers it to the first upsert.
func New(ctx context.Context, cfg *config.VectorConfig, dim int) (Store, error) {
	switch cfg.Provider {
	case config.VectorHNSW, "":
		opts := []Option{
			WithHNSW(HNSWOptions{
				M:              cfg.HNSW.M,
				EfConstruction: cfg.HNSW.EfConstruction,
				EfSearch:       cfg.HNSW.EfSearch,
			}),
		}
		if dim > 0 {
			opts = append(opts, WithDimension(dim))
		}
		if cfg.HNSW.SnapshotDir != "" {
			snap, err := OpenBadgerSnapshot(cfg.HNSW.SnapshotDir)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithSnapshot(snap))
		}
		return NewDocumentIndex(opts...)
	case config.VectorChromem:
		return NewChromemStore(ctx, cfg.Chromem, dim)
	case config.VectorQdrant:
		return NewQdrantStore(ctx, cfg.Qdrant, dim)
	default:
		return nil, fmt.Errorf("unknown vector provider %q", cfg.Provider)
	}
}
