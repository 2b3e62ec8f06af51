package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/quorum/internal/registry"
	"github.com/Dicklesworthstone/quorum/internal/server"
)

var serveAddr string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the task-submission API, the responder catalog, task trails, a
health endpoint, and a websocket event stream. When catalog_path is set, the
catalog file is watched and reloaded between batches on change.

Examples:
  quorum serve
  quorum serve --addr :9000`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hub := server.NewHub(nil)
	st, err := buildStack(cfg, hub)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.CatalogPath != "" {
		watcher, err := registry.Watch(cfg.CatalogPath, st.handle,
			registry.WithReloadHook(func(reg *registry.Registry) {
				st.log.Info("responder catalog reloaded", zap.Int("responders", reg.Count()))
			}),
			registry.WithReloadErrorHook(func(err error) {
				st.log.Warn("responder catalog reload failed", zap.Error(err))
			}))
		if err != nil {
			return fmt.Errorf("watch catalog %s: %w", cfg.CatalogPath, err)
		}
		defer watcher.Close()
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := server.New(st.orch, st.handle, st.store, hub, st.log)
	return srv.ListenAndServe(addr)
}
