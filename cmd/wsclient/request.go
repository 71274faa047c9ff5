package main

import (
	"context"
	"fmt"
	"time"

	"wsclient/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var requestFlags struct {
	timeout time.Duration
	headers map[string]string
}

var requestCmd = &cobra.Command{
	Use:   "request <request-destination> <reply-destination> <body>",
	Short: "Publish a request and print the first reply",
	Args:  cobra.ExactArgs(3),
	RunE:  runRequest,
}

func init() {
	requestCmd.Flags().DurationVar(&requestFlags.timeout, "timeout", 0, "reply timeout, default is the configured request timeout")
	requestCmd.Flags().StringToStringVarP(&requestFlags.headers, "header", "H", nil, "extra frame header, key=value")
}

func runRequest(cmd *cobra.Command, args []string) error {
	client, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}()

	opts := []websocket.RequestOption{websocket.WithHeaders(websocket.Headers(requestFlags.headers))}
	if requestFlags.timeout > 0 {
		opts = append(opts, websocket.WithTimeout(requestFlags.timeout))
	}
	payload, raw, err := client.RequestResponse(cmd.Context(), args[0], args[1], body(args[2]), opts...)
	if err != nil {
		return err
	}

	out, err := sonic.MarshalIndent(payload, "", "  ")
	if err != nil {
		out = raw.Body
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
