package main

import (
	"context"
	"encoding/json"
	"time"

	"wsclient/pkg/websocket"

	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
)

var publishFlags struct {
	headers map[string]string
}

var publishCmd = &cobra.Command{
	Use:   "publish <destination> <body>",
	Short: "Publish one message; a JSON body is sent as is",
	Args:  cobra.ExactArgs(2),
	RunE:  runPublish,
}

func init() {
	publishCmd.Flags().StringToStringVarP(&publishFlags.headers, "header", "H", nil, "extra frame header, key=value")
}

func runPublish(cmd *cobra.Command, args []string) error {
	client, _, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}()

	if err := client.Connect(cmd.Context()); err != nil {
		return err
	}
	if err := client.Publish(args[0], body(args[1]), websocket.Headers(publishFlags.headers)); err != nil {
		return err
	}
	logs.Infof("published to %s", args[0])
	return nil
}

// body keeps valid JSON as raw JSON and sends anything else as text.
func body(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}
