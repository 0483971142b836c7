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

package session

import (
	"context"
	"fmt"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/utils"
)

// New builds the Store selected by cfg.Driver.
func New(ctx context.Context, cfg *config.SessionConfig) (Store, error) {
	if cfg == nil {
		cfg = &config.SessionConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}

	switch cfg.Driver {
	case config.SessionMemory:
		return NewMemoryStore(), nil
	case config.SessionSQLite:
		if err := utils.EnsureParentDir(cfg.DSN); err != nil {
			return nil, persistErr("prepare sqlite path", err)
		}
	}
	return OpenSQL(ctx, cfg)
}
