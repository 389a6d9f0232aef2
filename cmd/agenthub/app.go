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
	"os"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/embedders"
	"github.com/kadirpekel/agenthub/pkg/executor"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/observability"
	"github.com/kadirpekel/agenthub/pkg/pipeline"
	"github.com/kadirpekel/agenthub/pkg/rag"
	"github.com/kadirpekel/agenthub/pkg/router"
	"github.com/kadirpekel/agenthub/pkg/server"
	"github.com/kadirpekel/agenthub/pkg/session"
	"github.com/kadirpekel/agenthub/pkg/tenant"
	"github.com/kadirpekel/agenthub/pkg/tools"
	"github.com/kadirpekel/agenthub/pkg/vector"
)

// App holds the wired runtime of one server process.
type App struct {
	Registry *tenant.Registry
	Server   *server.Server

	store       session.Store
	vectorStore vector.Provider
	llmRegistry *llms.Registry
}

// Close releases storage and provider connections.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("Failed to close session store", "error", err)
		}
	}
	if a.vectorStore != nil {
		if err := a.vectorStore.Close(); err != nil {
			slog.Warn("Failed to close vector store", "error", err)
		}
	}
	if a.llmRegistry != nil {
		if err := a.llmRegistry.Close(); err != nil {
			slog.Warn("Failed to close LLM providers", "error", err)
		}
	}
}

// buildApp wires the full pipeline from configuration.
func buildApp(ctx context.Context, cfg *config.Config, loader *config.Loader) (*App, error) {
	metrics, err := observability.InitMetrics(ctx, observability.MetricsConfig{
		Enabled: cfg.Global.Metrics.Enabled,
		Port:    cfg.Global.Metrics.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     otlpEndpoint != "",
		EndpointURL: otlpEndpoint,
		ServiceName: observability.DefaultServiceName,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	llmRegistry := llms.NewRegistry()
	for name, providerCfg := range cfg.LLMs {
		if _, err := llmRegistry.CreateFromConfig(name, providerCfg); err != nil {
			return nil, fmt.Errorf("failed to create llm %q: %w", name, err)
		}
	}
	gateway := llms.NewGateway(llmRegistry, cfg.Global.DefaultLLM, nil)

	searcher, vectorStore, err := buildRetrieval(cfg)
	if err != nil {
		return nil, err
	}

	invoker := tools.NewInvoker(searcher, tools.NewHandlerRegistry())

	registry := tenant.NewRegistry(cfg)

	rt, err := router.New(gateway, cfg.Router, nil)
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(gateway, invoker, nil)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStoreFromConfig(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	p, err := pipeline.New(registry, rt, exec, store, cfg.Session.WindowSize, nil)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(cfg.Global.Server, p, nil,
		server.WithReload(func(ctx context.Context) error {
			next, err := loader.Load(ctx)
			if err != nil {
				return err
			}
			return registry.Swap(next)
		}))
	if err != nil {
		return nil, err
	}

	return &App{
		Registry:    registry,
		Server:      srv,
		store:       store,
		vectorStore: vectorStore,
		llmRegistry: llmRegistry,
	}, nil
}

// buildRetrieval creates the vector store and retrieval engine. With no
// vector store or embedder configured, retrieval tools report a clear
// execution error instead of failing at startup.
func buildRetrieval(cfg *config.Config) (tools.Searcher, vector.Provider, error) {
	vectorStore, err := vector.NewFromConfig(cfg.Vector)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}
	if embedder == nil {
		if cfg.Vector != nil {
			slog.Warn("Vector store configured without an embedder, retrieval disabled")
		}
		return nil, vectorStore, nil
	}

	collection := "knowledge_chunks"
	if cfg.Vector != nil && cfg.Vector.Collection != "" {
		collection = cfg.Vector.Collection
	}

	engine, err := rag.NewEngine(vectorStore, embedder, collection)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create retrieval engine: %w", err)
	}
	return engine, vectorStore, nil
}

func buildEmbedder(cfg *config.Config) (embedders.Provider, error) {
	if len(cfg.Embedders) == 0 {
		return nil, nil
	}

	registry := embedders.NewRegistry()
	for name, embedderCfg := range cfg.Embedders {
		if _, err := registry.CreateFromConfig(name, embedderCfg); err != nil {
			return nil, fmt.Errorf("failed to create embedder %q: %w", name, err)
		}
	}

	name := ""
	if cfg.Vector != nil {
		name = cfg.Vector.Embedder
	}
	if name == "" {
		if len(cfg.Embedders) > 1 {
			return nil, fmt.Errorf("multiple embedders configured, set vector.embedder")
		}
		for n := range cfg.Embedders {
			name = n
		}
	}
	return registry.GetEmbedder(name)
}
