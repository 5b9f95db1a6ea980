package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// MaxSessions caps concurrent client connections on the server
	MaxSessions int `env:"CHATTER_MAX_SESSIONS,default=1024"`

	// QueueLimit bounds each session's outgoing queue, in bytes
	QueueLimit int `env:"CHATTER_QUEUE_LIMIT,default=65536"`

	// HTTPPort enables the HTTP side server when set
	HTTPPort  string `env:"CHATTER_HTTP_PORT"`
	DebugHTTP bool   `env:"CHATTER_DEBUG_HTTP"`

	LogLevel string `env:"CHATTER_LOG_LEVEL,default=info"`

	Reuseport bool `env:"CHATTER_REUSEPORT"`

	// DownloadDir is where the client saves received files
	DownloadDir string `env:"CHATTER_DOWNLOAD_DIR,default=."`

	// HandshakeTimeout bounds private link set up on the client, 0 waits
	// indefinitely
	HandshakeTimeout time.Duration `env:"CHATTER_HANDSHAKE_TIMEOUT,default=0s"`
}

// LoadConfig reads the configuration from the environment, after loading
// .env.local if there is one.
func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading .env.local: %w", err)
		}
	}

	return ParseConfig(ctx, envconfig.OsLookuper())
}

// ParseConfig reads the configuration from l and validates it.
func ParseConfig(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, l); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.MaxSessions < 1 {
		return errors.New("CHATTER_MAX_SESSIONS must be positive")
	}

	if c.QueueLimit < 1 {
		return errors.New("CHATTER_QUEUE_LIMIT must be positive")
	}

	if c.HandshakeTimeout < 0 {
		return errors.New("CHATTER_HANDSHAKE_TIMEOUT can't be negative")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("CHATTER_LOG_LEVEL: %w", err)
	}

	return nil
}
