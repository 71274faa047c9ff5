package main

import (
	"fmt"
	"os"
	"time"

	"wsclient/pkg/config"
	"wsclient/pkg/stompws"
	"wsclient/pkg/websocket"

	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

type rootFlags struct {
	url             string
	path            string
	apiBase         string
	token           string
	sockJS          bool
	verbose         bool
	pyroscope       string
	metricsInterval time.Duration
}

var (
	flags    rootFlags
	profiler *pyroscope.Profiler
)

var rootCmd = &cobra.Command{
	Use:           "wsclient",
	Short:         "Resilient STOMP over websocket client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return startProfiler(flags.pyroscope)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			_ = profiler.Stop()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.url, "url", "", "websocket base url, overrides "+config.KeyBaseURL)
	pf.StringVar(&flags.path, "path", "", "path appended to the base url, overrides "+config.KeyPath)
	pf.StringVar(&flags.apiBase, "api-base", "", "API base url used to derive or resolve the websocket url")
	pf.StringVar(&flags.token, "token", "", "access token, overrides "+config.KeyAccessToken)
	pf.BoolVar(&flags.sockJS, "sockjs", false, "dial the raw websocket endpoint of a SockJS server")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log client debug traces")
	pf.StringVar(&flags.pyroscope, "pyroscope", "", "pyroscope server address, profiling is off when empty")
	pf.DurationVar(&flags.metricsInterval, "metrics-interval", 15*time.Second, "period of the metrics log line, 0 disables")

	rootCmd.AddCommand(listenCmd, publishCmd, requestCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startProfiler(addr string) error {
	if addr == "" {
		return nil
	}
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "wsclient",
		ServerAddress:   addr,
		Tags: map[string]string{
			"env": "local",
		},
		Logger: emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return errors.Wrap(err, "pyroscope start")
	}
	profiler = p
	return nil
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}

// overrides maps the flags the user set onto configuration keys.
func overrides(cmd *cobra.Command) config.Values {
	values := config.Values{}
	set := func(name, key string, value any) {
		if f := cmd.Flag(name); f != nil && f.Changed {
			values[key] = value
		}
	}
	set("url", config.KeyBaseURL, flags.url)
	set("path", config.KeyPath, flags.path)
	set("api-base", config.KeyAPIBaseURL, flags.apiBase)
	set("token", config.KeyAccessToken, flags.token)
	set("sockjs", config.KeySockJS, flags.sockJS)
	return values
}

func newClient(cmd *cobra.Command) (*websocket.Client, config.Settings, error) {
	settings, err := config.Resolve(overrides(cmd))
	if err != nil {
		return nil, config.Settings{}, err
	}
	opt, err := settings.Option()
	if err != nil {
		return nil, config.Settings{}, err
	}
	opt.Verbose = flags.verbose
	opt.OnStatusChange = func(s websocket.Status) {
		logs.Infof("ws status: %s", s)
	}

	client, err := websocket.New(stompws.NewDialer(stompws.Option{SockJS: settings.SockJS}), opt)
	if err != nil {
		return nil, config.Settings{}, err
	}
	client.On(websocket.EventError, func(ev websocket.Event) {
		logs.Warnf("ws error: %+v", ev.Err)
	})
	client.On(websocket.EventReconnectScheduled, func(ev websocket.Event) {
		logs.Infof("ws reconnect #%d in %s", ev.Attempt, ev.Delay)
	})
	client.On(websocket.EventHeartbeatMissed, func(ev websocket.Event) {
		logs.Warnf("ws heartbeat missed, idle %s", ev.Idle)
	})
	client.On(websocket.EventQueueOverflow, func(ev websocket.Event) {
		logs.Warnf("ws queue overflow, dropped frame for %s", ev.Frame.Destination)
	})
	return client, settings, nil
}

func logMetrics(client *websocket.Client) {
	m := client.Metrics()
	logs.Infof("ws metrics: opens=%d losses=%d published=%d queued=%d drops=%d flushed=%d delivered=%d decode_errors=%d connect_timeouts=%d request_timeouts=%d heartbeat_misses=%d dial_avg=%s request_avg=%s",
		m.Opens, m.Losses, m.Published, m.Queued, m.QueueDrops, m.Flushed, m.Delivered,
		m.DecodeErrors, m.ConnectTimeouts, m.RequestTimeouts, m.HeartbeatMisses,
		m.DialLatency.Avg, m.RequestLatency.Avg)
}
