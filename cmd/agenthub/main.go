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

// Command agenthub runs the multi-tenant chat pipeline server.
//
// Usage:
//
//	agenthub serve --config config.yaml
//	agenthub serve --config config.yaml --watch
//	agenthub validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/kadirpekel/agenthub"
	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/config/provider"
	"github.com/kadirpekel/agenthub/pkg/logger"
	"github.com/kadirpekel/agenthub/pkg/tenant"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the chat pipeline server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"agenthub.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(agenthub.GetVersion().String())
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)." default:"0"`
	Watch bool `help:"Watch config file for changes and hot-reload tenants."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cleanup, err := initLogger(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	fileProvider, err := provider.NewFileProvider(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}

	var registry *tenant.Registry
	loader := config.NewLoader(fileProvider, config.WithOnChange(func(cfg *config.Config) {
		if registry == nil {
			return
		}
		if err := registry.Swap(cfg); err != nil {
			slog.Error("Rejected config change", "error", err)
			return
		}
		slog.Info("Tenant snapshot swapped")
	}))
	defer loader.Close()

	cfg, err := loader.Load(ctx)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Global.Server.Port = c.Port
	}

	app, err := buildApp(ctx, cfg, loader)
	if err != nil {
		return err
	}
	defer app.Close()
	registry = app.Registry

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	slog.Info("AgentHub server starting",
		"addr", app.Server.Address(),
		"tenants", len(cfg.Tenants),
		"agents", len(cfg.Agents),
		"tools", len(cfg.Tools))

	return app.Server.Start(ctx)
}

// ValidateCmd checks a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	defer loader.Close()

	fmt.Printf("Configuration is valid: %s\n", cli.Config)
	fmt.Printf("  LLMs:      %d\n", len(cfg.LLMs))
	fmt.Printf("  Embedders: %d\n", len(cfg.Embedders))
	fmt.Printf("  Agents:    %d\n", len(cfg.Agents))
	fmt.Printf("  Tools:     %d\n", len(cfg.Tools))
	fmt.Printf("  Tenants:   %d\n", len(cfg.Tenants))
	return nil
}

// initLogger configures slog from CLI flags with env-var fallbacks.
func initLogger(cli *CLI) (func(), error) {
	logLevel := cli.LogLevel
	if v := os.Getenv("LOG_LEVEL"); logLevel == "info" && v != "" {
		logLevel = v
	}
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logFile := cli.LogFile
	if logFile == "" {
		logFile = os.Getenv("LOG_FILE")
	}

	output := os.Stderr
	cleanup := func() {}
	if logFile != "" {
		file, closeFn, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	// Missing .env is fine; exported variables still apply.
	_ = godotenv.Load()

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("agenthub"),
		kong.Description("Multi-tenant request-routing and RAG pipeline for conversational platforms."),
		kong.UsageOnError(),
	)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
