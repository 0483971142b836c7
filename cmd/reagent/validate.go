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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/reagent/pkg/config"
)

// ValidateCmd loads and validates the configuration without starting anything.
type ValidateCmd struct {
	Format      string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved, secrets masked)."`
}

type validationResult struct {
	Valid  bool     `json:"valid"`
	Source string   `json:"source"`
	Errors []string `json:"errors,omitempty"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	return c.run(cli, os.Stdout)
}

func (c *ValidateCmd) run(cli *CLI, out io.Writer) error {
	source := cli.Config
	if source == "" {
		source = "environment"
	}

	cfg, err := cli.load()
	if err != nil {
		if c.Format == "json" {
			writeValidation(out, validationResult{Source: source, Errors: strings.Split(err.Error(), "\n")})
		} else {
			fmt.Fprintf(out, "%s: invalid\n  %s\n", source, strings.ReplaceAll(err.Error(), "\n", "\n  "))
		}
		return fmt.Errorf("config validation failed")
	}

	if c.PrintConfig {
		data, err := yaml.Marshal(maskSecrets(cfg))
		if err != nil {
			return err
		}
		_, _ = out.Write(data)
		return nil
	}

	if c.Format == "json" {
		writeValidation(out, validationResult{Valid: true, Source: source})
		return nil
	}
	fmt.Fprintf(out, "%s: valid (%d providers: %s)\n", source, len(cfg.OrderedProviders()), strings.Join(cfg.OrderedProviders(), ", "))
	return nil
}

func writeValidation(out io.Writer, res validationResult) {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}

// maskSecrets returns a copy of cfg with credentials replaced.
func maskSecrets(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Providers = make(map[string]*config.ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		cp := *p
		if cp.APIKey != "" {
			cp.APIKey = "********"
		}
		masked.Providers[name] = &cp
	}
	if masked.Embedder.APIKey != "" {
		masked.Embedder.APIKey = "********"
	}
	if masked.Vector.Qdrant.APIKey != "" {
		masked.Vector.Qdrant.APIKey = "********"
	}
	return &masked
}
