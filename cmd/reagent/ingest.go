// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/reagent/pkg/config"
)

// IngestCmd indexes files into the configured embedding index.
type IngestCmd struct {
	Paths []string `arg:"" name:"path" help:"Files to ingest." type:"existingfile"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if cfg.Vector.Provider == config.VectorHNSW && cfg.Vector.HNSW.SnapshotDir == "" {
		slog.Warn("vector.hnsw.snapshot_dir is not set; ingested documents are lost on exit")
	}

	a, err := buildApp(ctx, cfg, appOverrides{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	var failed int
	for _, path := range c.Paths {
		res, err := a.ingester.IngestFile(ctx, path)
		if err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Printf("OK   %s -> %s (%d chunks, %d tokens)\n", path, res.DocumentID, res.Chunks, res.Tokens)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(c.Paths))
	}
	return nil
}
