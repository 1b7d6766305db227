// Copyright 2025 The Obskit Authors
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

package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/obskit/obskit/internal/audit"
	"github.com/obskit/obskit/internal/cache"
	"github.com/obskit/obskit/internal/config"
	"github.com/obskit/obskit/internal/log"
	"github.com/obskit/obskit/internal/metrics"
	"github.com/obskit/obskit/internal/nerdgraph"
	"github.com/obskit/obskit/internal/plugin"
	"github.com/obskit/obskit/internal/plugins"
	"github.com/obskit/obskit/internal/server"
	"github.com/obskit/obskit/pkg/errors"
)

// runtime bundles everything the serve and plugins commands need, with a
// single Close that tears down in reverse construction order.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	host     *server.Host
	manager  *plugin.Manager
	closers  []func() error
}

// Close releases runtime resources, newest first.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("shutdown step failed", "error", err)
		}
	}
}

// buildRuntime wires config → logger → metrics → cache → audit → client pool
// → MCP host → plugin manager. No global singletons: every dependency is
// constructed here and handed down.
func buildRuntime(configPath string, info BuildInfo) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
	})
	slog.SetDefault(logger)

	r := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	m := metrics.New(r.registry)

	cacheSvc, err := cache.New(cfg.Cache, logger, m)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, cacheSvc.Close)

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path, logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, auditLog.Close)
	}

	pool := nerdgraph.NewPool(logger, m)
	r.closers = append(r.closers, pool.CloseAll)

	endpoint := cfg.NewRelic.Endpoint
	if endpoint == "" {
		endpoint = nerdgraph.DefaultEndpoint
		if cfg.NewRelic.Region == "eu" {
			endpoint = nerdgraph.EndpointEU
		}
	}

	client, err := nerdgraph.NewClient(nerdgraph.Config{
		Endpoint:   endpoint,
		APIKey:     cfg.NewRelic.APIKey,
		AccountID:  cfg.NewRelic.AccountID,
		Timeout:    cfg.NewRelic.Timeout,
		MaxRetries: cfg.NewRelic.MaxRetries,
		Pool:       pool,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		r.Close()
		return nil, err
	}
	r.closers = append(r.closers, client.Close)

	r.host = server.NewHost(server.HostConfig{
		Name:           cfg.Server.Name,
		Version:        info.Version,
		CallsPerMinute: cfg.Server.CallsPerMinute,
		Audit:          auditLog,
		Logger:         logger,
	})

	deps := plugins.Deps{
		Client:   client,
		Cache:    cacheSvc,
		CacheTTL: cfg.Cache.DefaultTTL,
		Disabled: cfg.DisabledPlugins(),
		Logger:   logger,
	}

	shared := map[string]any{"cache": cacheSvc}
	if auditLog != nil {
		shared["audit"] = auditLog
	}

	r.manager, err = plugin.NewManager(plugin.ManagerConfig{
		Host:           r.host,
		Discover:       plugins.Builtin(deps),
		Configs:        plugin.NewConfigManager(cfg.PluginSections()),
		SharedServices: shared,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func newServeCommand(configPath *string, info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load plugins and serve MCP over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, info)
		},
	}
}

func runServe(configPath string, info BuildInfo) error {
	r, err := buildRuntime(configPath, info)
	if err != nil {
		return err
	}
	defer r.Close()

	report, err := r.manager.LoadAll()
	if err != nil {
		return errors.Wrap(err, "loading plugins")
	}
	if report.Loaded == 0 {
		return errors.New("no plugins loaded, refusing to serve an empty tool table")
	}

	// Reload plugins when the config file changes on disk.
	if _, statErr := os.Stat(configPath); statErr == nil {
		watcher, werr := plugin.NewWatcher(plugin.WatcherConfig{
			Path:   configPath,
			Logger: r.logger,
			OnChange: func() {
				if _, rerr := r.manager.LoadAll(); rerr != nil {
					r.logger.Error("reload after config change failed", "error", rerr)
				}
			},
		})
		if werr != nil {
			r.logger.Warn("config watcher unavailable", "error", werr)
		} else {
			defer watcher.Close()
		}
	}

	if addr := r.cfg.Server.MetricsAddr; addr != "" {
		go serveMetrics(addr, r.registry, r.logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.host.Run(ctx)
}

// serveMetrics exposes the Prometheus registry on a side listener. Metrics
// never go near stdout; the MCP protocol owns it.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener failed", "error", err)
	}
}
