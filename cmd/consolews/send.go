package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/consolews/internal/connection"
)

type sendOptions struct {
	timeout  time.Duration
	jsonOnly bool
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Connect, send one frame and disconnect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), cmd, root, opts, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "how long to wait for the channel to open")
	cmd.Flags().BoolVar(&opts.jsonOnly, "json", false, "reject payloads that are not valid JSON")

	return cmd
}

func runSend(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *sendOptions, payload string) error {
	if opts.jsonOnly && !json.Valid([]byte(payload)) {
		return errors.New("payload is not valid JSON")
	}

	a, err := newApp(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.shutdown(opts.timeout)

	identity, err := a.resolveIdentity(ctx, root.identity)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	conn, err := a.dir.GetOrCreate(identity)
	if err != nil {
		return fmt.Errorf("open push channel: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := conn.WaitFor(waitCtx, connection.StateOpen); err != nil {
		return fmt.Errorf("wait for open channel: %w", err)
	}

	if err := conn.Send([]byte(payload)); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}

	a.logger.Info("frame sent", "identity", conn.Identity(), "bytes", len(payload))
	return nil
}
