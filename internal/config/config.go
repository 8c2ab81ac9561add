package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultReconnectInitial = 500 * time.Millisecond
	DefaultReconnectMax     = 10 * time.Second
	DefaultReconnectRetries = 8
	DefaultSendRate         = 5.0
	DefaultSendBurst        = 10
	DefaultNotificationTTL  = 5000 * time.Millisecond
	DefaultMaxNotifications = 20

	websocketPath = "/chat/ws"
)

// ClientConfig configures the chat client. Durations may be overridden
// after construction; call Validate again afterwards.
type ClientConfig struct {
	ServerURL        *url.URL
	Token            string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ReconnectRetries int
	SendRate         float64
	SendBurst        int
	NotificationTTL  time.Duration
	MaxNotifications int
}

func NewClientConfig(serverURL, token string) (*ClientConfig, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("server url cannot be empty")
	}
	if token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url has no host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	cfg := &ClientConfig{
		ServerURL:        u,
		Token:            token,
		ReconnectInitial: DefaultReconnectInitial,
		ReconnectMax:     DefaultReconnectMax,
		ReconnectRetries: DefaultReconnectRetries,
		SendRate:         DefaultSendRate,
		SendBurst:        DefaultSendBurst,
		NotificationTTL:  DefaultNotificationTTL,
		MaxNotifications: DefaultMaxNotifications,
	}

	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.ReconnectInitial <= 0 {
		return fmt.Errorf("reconnect initial delay must be positive")
	}
	if c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("reconnect max delay %s is lower than initial delay %s", c.ReconnectMax, c.ReconnectInitial)
	}
	if c.ReconnectRetries < 1 {
		return fmt.Errorf("reconnect retries must be at least 1")
	}
	if c.SendRate < 0 || c.SendBurst < 0 {
		return fmt.Errorf("send rate and burst cannot be negative")
	}
	if c.NotificationTTL <= 0 {
		return fmt.Errorf("notification ttl must be positive")
	}

	return nil
}

// WebsocketURL derives the live channel endpoint from the server URL.
func (c *ClientConfig) WebsocketURL() string {
	u := *c.ServerURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = u.Path + websocketPath
	u.RawQuery = ""

	return u.String()
}

type ServerConfig struct {
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret decodes to an empty key")
	}

	return key, nil
}

func NewServerConfig(serverAddr, base64Secret string, allowedOrigins []string) (*ServerConfig, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &ServerConfig{
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
