package main

import (
	"context"
	"time"

	"wsclient/pkg/journal"
	"wsclient/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

var listenFlags struct {
	journalDSN string
}

var listenCmd = &cobra.Command{
	Use:   "listen <destination>...",
	Short: "Subscribe to destinations and log every message until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().StringVar(&listenFlags.journalDSN, "journal-dsn", "", "postgres DSN; when set every message is stored")
}

func runListen(cmd *cobra.Command, args []string) error {
	client, _, err := newClient(cmd)
	if err != nil {
		return err
	}

	var store *journal.Store
	if listenFlags.journalDSN != "" {
		store, err = journal.New(journal.Option{ConnString: listenFlags.journalDSN})
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
	}

	for _, dest := range args {
		handler := websocket.Handler(func(payload any, raw websocket.Frame) {
			text, err := sonic.MarshalString(payload)
			if err != nil {
				text = string(raw.Body)
			}
			logs.Infof("%s: %s", raw.Destination, text)
		})
		if store != nil {
			handler = store.Handler(handler)
		}
		if _, err := client.Subscribe(dest, handler, nil); err != nil {
			return err
		}
	}

	if err := client.Connect(cmd.Context()); err != nil {
		// the loop keeps retrying in the background
		logs.Warnf("connect: %+v", err)
	}

	var tick <-chan time.Time
	if flags.metricsInterval > 0 {
		ticker := time.NewTicker(flags.metricsInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

loop:
	for {
		select {
		case <-sys.Shutdown():
			break loop
		case <-cmd.Context().Done():
			break loop
		case <-tick:
			logMetrics(client)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logMetrics(client)
	return client.Disconnect(ctx)
}
