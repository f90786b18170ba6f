package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/consolews/internal/session"
)

func newTailCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Print every frame pushed to the identity until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, cmd, root)
		},
	}
}

func runTail(ctx context.Context, cmd *cobra.Command, root *rootOptions) error {
	a, err := newApp(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.shutdown(5 * time.Second)

	identity, err := a.resolveIdentity(ctx, root.identity)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	conn, err := a.dir.GetOrCreate(identity)
	if err != nil {
		return fmt.Errorf("open push channel: %w", err)
	}

	var outMu sync.Mutex
	out := cmd.OutOrStdout()
	conn.Subscribe(func(frame []byte) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(out, string(frame))
	})

	a.logger.Info("tailing push channel",
		"identity", conn.Identity(),
		"url", conn.URL(),
	)

	tailCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Session.CheckInterval > 0 && !a.creds.Empty() {
		w := session.New(session.Config{
			Interval: a.cfg.Session.CheckInterval,
			Timeout:  a.cfg.Service.Timeout,
		}, conn.Identity(), a.api, session.EndHandlerFunc(func(identity string, reason error) {
			a.logger.Warn("closing push channel", "identity", identity, "reason", reason)
			_ = a.dir.Close(identity)
		}), a.logger, nil)
		if err := w.Start(tailCtx); err != nil {
			return fmt.Errorf("start session watcher: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = w.Stop(stopCtx)
		}()
	}

	g, gctx := errgroup.WithContext(tailCtx)

	if a.cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
			Handler:           createHTTPHandler(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			return serveHTTP(gctx, srv, a.logger)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-conn.Done():
			a.logger.Warn("push channel closed")
			cancel()
		}
		return nil
	})

	err = g.Wait()
	a.logger.Info("shutting down", "stats", conn.Stats())
	return err
}
