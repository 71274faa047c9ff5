package config

import (
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"wsclient/pkg/exception"
	"wsclient/pkg/websocket"

	"github.com/bytedance/sonic"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Keys shared by the runtime file, the environment and overrides.
const (
	KeyBaseURL          = "WS_BASE_URL"
	KeyPath             = "WS_PATH"
	KeyRetryMinMS       = "WS_RETRY_MIN_MS"
	KeyRetryMaxMS       = "WS_RETRY_MAX_MS"
	KeyHeartbeatMS      = "WS_HEARTBEAT_MS"
	KeyHeartbeatInMS    = "WS_HEARTBEAT_IN_MS"
	KeyHeartbeatOutMS   = "WS_HEARTBEAT_OUT_MS"
	KeyRequestTimeoutMS = "WS_REQUEST_TIMEOUT_MS"
	KeyWithTokenQuery   = "WS_WITH_TOKEN_QUERY"
	KeyAccessToken      = "ACCESS_TOKEN"
	KeyAPIBaseURL       = "API_BASE_URL"
	KeySockJS           = "WS_SOCKJS"

	// EnvAppConf names the environment variable holding the runtime JSON file path.
	EnvAppConf = "WS_APP_CONF"
)

// Hard defaults.
const (
	DefaultBaseURL        = "/ws"
	DefaultRetryMin       = 300 * time.Millisecond
	DefaultRetryMax       = 10 * time.Second
	DefaultHeartbeat      = 25 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultWithTokenQuery = true

	derivedPath      = "/ws"
	tokenQueryKey    = "access_token"
	authHeader       = "Authorization"
	authHeaderPrefix = "Bearer "
)

// Build-time values, set with -ldflags "-X wsclient/pkg/config.BuildBaseURL=...".
var (
	BuildBaseURL          string
	BuildPath             string
	BuildRetryMinMS       string
	BuildRetryMaxMS       string
	BuildHeartbeatMS      string
	BuildRequestTimeoutMS string
	BuildWithTokenQuery   string
	BuildAPIBaseURL       string
)

// Values is one configuration layer keyed by the Key constants.
// Values may be strings, numbers or booleans.
type Values map[string]any

// Settings is the resolved, immutable client configuration.
type Settings struct {
	BaseURL           string
	Path              string
	RetryMin          time.Duration
	RetryMax          time.Duration
	HeartbeatIncoming time.Duration
	HeartbeatOutgoing time.Duration
	RequestTimeout    time.Duration
	WithTokenQuery    bool
	AccessToken       string
	APIBaseURL        string
	SockJS            bool
}

var (
	cacheMu sync.Mutex
	cached  *Settings
)

// Load returns the process settings, resolving them on first use.
func Load() (Settings, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return reloadLocked()
}

// Reload resolves the process settings again and replaces the cached copy.
func Reload() (Settings, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	return reloadLocked()
}

func reloadLocked() (Settings, error) {
	s, err := Resolve(nil)
	if err != nil {
		return Settings{}, err
	}
	cached = &s
	return s, nil
}

// Resolve merges overrides, the runtime file, the environment, build-time values,
// values derived from the API base URL and hard defaults, in that order. It is not cached.
func Resolve(overrides Values) (Settings, error) {
	runtime, err := readRuntimeFile(os.Getenv(EnvAppConf))
	if err != nil {
		return Settings{}, err
	}
	r := resolver{layers: []layer{
		{name: "override", lookup: overrides.lookup},
		{name: "runtime", lookup: runtime.lookup},
		{name: "env", lookup: lookupEnv},
		{name: "build", lookup: lookupBuild},
	}}

	apiBase := r.str(KeyAPIBaseURL, "")
	baseURL := r.str(KeyBaseURL, "")
	if baseURL == "" {
		baseURL = deriveFromAPI(apiBase)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	heartbeat := r.millis(KeyHeartbeatMS, DefaultHeartbeat)
	s := Settings{
		BaseURL:           baseURL,
		Path:              r.str(KeyPath, ""),
		RetryMin:          r.millis(KeyRetryMinMS, DefaultRetryMin),
		RetryMax:          r.millis(KeyRetryMaxMS, DefaultRetryMax),
		HeartbeatIncoming: r.millis(KeyHeartbeatInMS, heartbeat),
		HeartbeatOutgoing: r.millis(KeyHeartbeatOutMS, heartbeat),
		RequestTimeout:    r.millis(KeyRequestTimeoutMS, DefaultRequestTimeout),
		WithTokenQuery:    r.boolean(KeyWithTokenQuery, DefaultWithTokenQuery),
		AccessToken:       r.str(KeyAccessToken, ""),
		APIBaseURL:        apiBase,
		SockJS:            r.boolean(KeySockJS, false),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	return s, nil
}

// Validate checks the durations and the retry bounds. A zero retry delay is rejected.
func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.BaseURL, validation.Required),
		validation.Field(&s.RetryMin, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&s.RetryMax, validation.Min(s.RetryMin)),
		validation.Field(&s.HeartbeatIncoming, validation.Min(time.Duration(0))),
		validation.Field(&s.HeartbeatOutgoing, validation.Min(time.Duration(0))),
		validation.Field(&s.RequestTimeout, validation.Min(time.Duration(0))),
	)
}

// URL returns the absolute websocket endpoint. A relative base is resolved against
// the API base URL, the path is appended and the access token is attached as a
// query parameter when WithTokenQuery is set.
func (s Settings) URL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(s.BaseURL))
	if err != nil {
		return "", errors.Wrapf(exception.ErrInvalidConfig, "parse base url %q: %v", s.BaseURL, err)
	}
	if !u.IsAbs() {
		if s.APIBaseURL == "" {
			return "", errors.Wrapf(exception.ErrInvalidConfig, "relative base url %q needs %s", s.BaseURL, KeyAPIBaseURL)
		}
		api, err := url.Parse(strings.TrimSpace(s.APIBaseURL))
		if err != nil || !api.IsAbs() {
			return "", errors.Wrapf(exception.ErrInvalidConfig, "invalid api base url %q", s.APIBaseURL)
		}
		u = api.ResolveReference(u)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if p := strings.TrimLeft(s.Path, "/"); p != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + p
	}
	if s.WithTokenQuery && s.AccessToken != "" {
		q := u.Query()
		q.Set(tokenQueryKey, s.AccessToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Option builds the client option. Without token query the access token is sent
// as a bearer Authorization header on CONNECT.
func (s Settings) Option() (websocket.Option, error) {
	endpoint, err := s.URL()
	if err != nil {
		return websocket.Option{}, err
	}
	backoff := websocket.DefaultBackoff()
	backoff.Min = s.RetryMin
	backoff.Max = s.RetryMax

	opt := websocket.Option{
		URL:               endpoint,
		HeartbeatIncoming: s.HeartbeatIncoming,
		HeartbeatOutgoing: s.HeartbeatOutgoing,
		Backoff:           backoff,
		RequestTimeout:    s.RequestTimeout,
	}
	if !s.WithTokenQuery && s.AccessToken != "" {
		opt.ConnectHeaders = websocket.Headers{authHeader: authHeaderPrefix + s.AccessToken}
	}
	return opt, nil
}

// deriveFromAPI maps an absolute API base to its websocket endpoint: http→ws, https→wss, path /ws.
func deriveFromAPI(apiBase string) string {
	if apiBase == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ""
	}
	if u.Scheme == "https" || u.Scheme == "wss" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = derivedPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func readRuntimeFile(path string) (Values, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "read runtime config %s: %v", path, err)
	}
	var values Values
	if err := sonic.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "decode runtime config %s: %v", path, err)
	}
	logs.Debugf("runtime config loaded from %s (%d keys)", path, len(values))
	return values, nil
}

func (v Values) lookup(key string) (any, bool) {
	if v == nil {
		return nil, false
	}
	value, ok := v[key]
	if !ok || value == nil {
		return nil, false
	}
	if s, isStr := value.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return value, true
}

func lookupEnv(key string) (any, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil, false
	}
	return value, true
}

func lookupBuild(key string) (any, bool) {
	var value string
	switch key {
	case KeyBaseURL:
		value = BuildBaseURL
	case KeyPath:
		value = BuildPath
	case KeyRetryMinMS:
		value = BuildRetryMinMS
	case KeyRetryMaxMS:
		value = BuildRetryMaxMS
	case KeyHeartbeatMS:
		value = BuildHeartbeatMS
	case KeyRequestTimeoutMS:
		value = BuildRequestTimeoutMS
	case KeyWithTokenQuery:
		value = BuildWithTokenQuery
	case KeyAPIBaseURL:
		value = BuildAPIBaseURL
	}
	if strings.TrimSpace(value) == "" {
		return nil, false
	}
	return value, true
}
