package env

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"

	"github.com/luma/ycommand/protocol"
	"github.com/luma/ycommand/storage"
	"github.com/luma/ycommand/transport"
)

// DotEnvFile is loaded, when present, before the environment is processed.
const DotEnvFile = ".env.local"

var ErrMissingCredentials = errors.New("App id, consumer key and app name are required to create a session")

type Config struct {
	Host      string `env:"YCMD_HOST,default=0.0.0.0"`
	Port      int    `env:"YCMD_PORT,default=7363"`
	HTTPPort  int    `env:"YCMD_HTTP_PORT,default=7362"`
	DebugHTTP bool   `env:"YCMD_DEBUG_HTTP"`
	Reuseport bool   `env:"YCMD_REUSEPORT,default=true"`
	LogLevel  string `env:"YCMD_LOG_LEVEL,default=info"`

	// Credentials used by clients to create a session
	AppID          string `env:"YCMD_APP_ID"`
	ConsumerKey    string `env:"YCMD_CONSUMER_KEY"`
	ConsumerSecret string `env:"YCMD_CONSUMER_SECRET"`
	AppName        string `env:"YCMD_APP_NAME"`

	// Keyring maps consumer keys to secrets on the device side, as
	// key1:secret1,key2:secret2
	Keyring map[string]string `env:"YCMD_KEYRING"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	return loadConfig(ctx, DotEnvFile, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, dotEnvFile string, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(dotEnvFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load %s: %w", dotEnvFile, err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}

// SessionCommand builds the SESSION CREATE command for the configured app.
// An empty consumer secret is allowed.
func (c *Config) SessionCommand() (*protocol.CreateSessionCommand, error) {
	if c.AppID == "" || c.ConsumerKey == "" || c.AppName == "" {
		return nil, ErrMissingCredentials
	}

	return protocol.NewCreateSessionCommand(c.AppID, c.ConsumerKey, c.ConsumerSecret, c.AppName), nil
}

func (c *Config) TransportOptions(store storage.Store, log *zap.Logger) transport.Options {
	keyring := make(transport.StaticKeyring, len(c.Keyring)+1)
	for key, secret := range c.Keyring {
		keyring[key] = secret
	}

	// The configured app can always create a session with its own device
	if c.ConsumerKey != "" {
		if _, ok := keyring[c.ConsumerKey]; !ok {
			keyring[c.ConsumerKey] = c.ConsumerSecret
		}
	}

	return transport.Options{
		Host:      c.Host,
		Port:      c.Port,
		Reuseport: c.Reuseport,
		Keyring:   keyring,
		Store:     store,
		Log:       log,
	}
}
