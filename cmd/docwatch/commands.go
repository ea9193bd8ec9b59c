package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/docwatch/tracker"
)

func runCmd(g *globals) *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every topic on the configured schedule and serve the read API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, logger, err := g.service(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if noHTTP {
				return ignoreCanceled(svc.Run(ctx))
			}

			// The poller and the read API stop together.
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			httpErr := make(chan error, 1)
			go func() {
				httpErr <- listen(ctx, svc, logger)
				cancel()
			}()
			err = ignoreCanceled(svc.Run(ctx))
			cancel()
			return errors.Join(err, <-httpErr)
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not serve the read API")
	return cmd
}

func onceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Process every topic once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.RunOnce(cmd.Context())
		},
	}
}

func digestCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Evaluate the weekly digest of every topic now",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.service(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return svc.RunDigests(cmd.Context())
		},
	}
}

func serveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API only",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := g.service(cmd.Context(), tracker.ReadOnly())
			if err != nil {
				return err
			}
			defer svc.Close()
			return listen(cmd.Context(), svc, logger)
		},
	}
}

func mcpCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the read tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := g.service(cmd.Context(), tracker.ReadOnly())
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "docwatch", Version: Version}, nil)
			svc.RegisterMCP(srv)
			logger.Info("mcp: serving on stdio")
			return ignoreCanceled(srv.Run(cmd.Context(), &mcp.StdioTransport{}))
		},
	}
}

func historyCmd(g *globals) *cobra.Command {
	var q tracker.UpdatesQuery
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded entries as JSON, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.service(cmd.Context(), tracker.ReadOnly())
			if err != nil {
				return err
			}
			defer svc.Close()

			entries, err := svc.Updates(cmd.Context(), q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().StringVar(&q.Topic, "topic", "", "only this topic")
	cmd.Flags().StringVar(&q.Language, "language", "", "only this language")
	cmd.Flags().StringVar(&q.Type, "type", "", "single or weekly")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 20, "maximum entries")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	return cmd
}

// listen serves the read API until ctx is done.
func listen(ctx context.Context, svc *tracker.Service, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              svc.Config().HTTP.Addr,
		Handler:           svc.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http: listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
