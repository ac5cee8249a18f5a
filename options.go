package scserver

import (
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frank-dspeed/socketcluster-server/internal/logger"
)

// ServerConfig configures a Server. The zero value is usable; every
// field has a default applied by New.
type ServerConfig struct {
	// BrokerEngine maintains channel membership and fan-out. Defaults to
	// an in-process SimpleBroker.
	BrokerEngine BrokerEngine
	// AuthEngine signs and verifies auth tokens. Defaults to JWTAuthEngine.
	AuthEngine AuthEngine
	// CodecEngine encodes and decodes wire frames. Defaults to JSONCodec.
	CodecEngine CodecEngine

	// AuthKey is the shared signing/verification key. A random 32-byte
	// key is generated when absent, which makes issued tokens valid only
	// for the lifetime of this process.
	AuthKey []byte
	// AuthAlgorithm names the signing algorithm. It cannot be changed
	// per call at runtime.
	AuthAlgorithm string
	// AuthVerifyAlgorithms restricts accepted algorithms during
	// verification. Defaults to the signing algorithm.
	AuthVerifyAlgorithms []string
	// AuthDefaultExpiry is applied to signed tokens that carry neither
	// an exp claim nor an explicit expiry option. Default 24h.
	AuthDefaultExpiry time.Duration

	// Origins is the origin allow-list: "*:*" for any, otherwise a
	// comma-separated list of host:port entries where either side may be
	// a wildcard, e.g. "example.com:80,*:8080".
	Origins string

	// AckTimeout bounds how long an invoke waits for its response.
	// Default 10s.
	AckTimeout time.Duration
	// HandshakeTimeout bounds how long a new connection may take to send
	// its #handshake request. Default 10s.
	HandshakeTimeout time.Duration
	// PingInterval is the delay between outbound ping frames. Default 8s.
	PingInterval time.Duration
	// PingTimeout closes the connection when no inbound frame of any
	// kind arrives within it. Default 20s.
	PingTimeout time.Duration
	// PingTimeoutDisabled turns off the keepalive discipline entirely.
	PingTimeoutDisabled bool

	// SocketChannelLimit caps channel subscriptions per socket. Zero
	// means unlimited.
	SocketChannelLimit int
	// AllowClientPublish gates inbound #publish requests. Defaults to
	// true; set to a false pointer to refuse client publishes.
	AllowClientPublish *bool
	// MiddlewareEmitWarnings controls whether middleware blocks surface
	// as server warnings. Defaults to true.
	MiddlewareEmitWarnings *bool
	// PubSubBatchDuration is the quiescence window for batched outbound
	// frames. Zero flushes on the next scheduling opportunity.
	PubSubBatchDuration time.Duration

	// AppName identifies this server instance. Defaults to a random id.
	AppName string
	// Logger receives diagnostics. Defaults to a colored console logger.
	Logger *slog.Logger
}

func (c *ServerConfig) withDefaults() *ServerConfig {
	cfg := ServerConfig{}
	if c != nil {
		cfg = *c
	}
	if cfg.BrokerEngine == nil {
		cfg.BrokerEngine = NewSimpleBroker()
	}
	if cfg.AuthEngine == nil {
		cfg.AuthEngine = JWTAuthEngine{}
	}
	if cfg.CodecEngine == nil {
		cfg.CodecEngine = JSONCodec{}
	}
	if len(cfg.AuthKey) == 0 {
		cfg.AuthKey = randomKey(32)
	}
	if cfg.AuthAlgorithm == "" {
		cfg.AuthAlgorithm = defaultAuthAlgorithm
	}
	if len(cfg.AuthVerifyAlgorithms) == 0 {
		cfg.AuthVerifyAlgorithms = []string{cfg.AuthAlgorithm}
	}
	if cfg.AuthDefaultExpiry == 0 {
		cfg.AuthDefaultExpiry = 24 * time.Hour
	}
	if cfg.Origins == "" {
		cfg.Origins = "*:*"
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 8 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 20 * time.Second
	}
	if cfg.AllowClientPublish == nil {
		cfg.AllowClientPublish = boolPtr(true)
	}
	if cfg.MiddlewareEmitWarnings == nil {
		cfg.MiddlewareEmitWarnings = boolPtr(true)
	}
	if cfg.AppName == "" {
		cfg.AppName = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New(slog.LevelInfo)
	}
	return &cfg
}

func boolPtr(v bool) *bool { return &v }

func randomKey(n int) []byte {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}
