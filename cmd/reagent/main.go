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

// Command reagent runs the ReAct agent service.
//
// Usage:
//
//	reagent serve --config reagent.yaml
//	reagent chat --thread thread_0123456789abcdef
//	reagent ingest docs/*.pdf
//	reagent validate --config reagent.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/reagent"
	"github.com/kadirpekel/reagent/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Chat     ChatCmd     `cmd:"" help:"Chat with the agent in the terminal."`
	Ingest   IngestCmd   `cmd:"" help:"Index documents for document_search."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of the config file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file (empty = environment variables)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

func (c *CLI) load() (*config.Config, error) {
	if err := config.LoadDotEnvForConfig(c.Config); err != nil {
		return nil, err
	}
	return config.Load(c.Config)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(reagent.GetVersion().String())
	return nil
}

func version() string { return reagent.GetVersion().Version }

// SchemaCmd prints the config JSON Schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run() error {
	data, err := config.Schema()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("reagent"),
		kong.Description("Conversational ReAct agent with provider failover and document search."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := ctx.Run(&cli); err != nil {
		slog.Error("Command failed", "error", err)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}
