package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned by LoadConfigFromEnv when the environment holds an
// invalid or incomplete configuration.
var ErrConfig = errors.New("store: invalid configuration")

// Config holds the connection parameters for a message store. It is
// intentionally explicit and environment-driven so that production
// deployments can retune pool sizing and timeouts without code changes.
type Config struct {
	// DatabaseURL is a postgres:// connection string. URI returns it as-is
	// only when Host is empty; otherwise the discrete
	// Host/Port/Database/User/Password fields are used.
	DatabaseURL string

	Host       string
	Port       int
	Database   string
	User       string
	Password   string
	SchemaName string

	// MaxPoolSize bounds concurrent connections held by the pool.
	MaxPoolSize int32
	// MinPoolSize is kept warm even when idle.
	MinPoolSize int32
	// CommandTimeout bounds the connection acquire that NewPool performs to
	// validate a new pool. Operations are not bounded by it; they run under
	// the caller's context only.
	CommandTimeout time.Duration

	// LogLevel and LogFormat configure the ambient logger a caller builds
	// from this Config (see internal/applog.New); the store package itself
	// never reads them, it only carries them so one env-driven Config is
	// the single source of truth for a process's logging setup.
	LogLevel  string
	LogFormat string
}

// DefaultConfig returns values suitable for a local development database.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5432,
		Database:       "message_store",
		User:           "message_store",
		SchemaName:     "message_store",
		MaxPoolSize:    16,
		MinPoolSize:    0,
		CommandTimeout: 30 * time.Second,
		LogLevel:       "info",
		LogFormat:      "auto",
	}
}

// URI renders cfg as a postgres:// connection string, preferring the
// discrete fields over DatabaseURL so that callers can build one
// programmatically without hand-assembling a URL.
func (c Config) URI() string {
	if c.Host == "" && c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.SchemaName != "" {
		q.Set("search_path", c.SchemaName)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseConfig parses a postgres:// URI into a Config, applying library
// defaults for pool sizing and the command timeout. It does not dial the
// database; call NewPool for that.
func ParseConfig(uri string) (Config, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Config{}, ValidationError{Msg: fmt.Sprintf("parse database uri: %v", err)}
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return Config{}, ValidationError{Msg: fmt.Sprintf("unsupported scheme %q, want postgres(ql)://", u.Scheme)}
	}

	cfg := DefaultConfig()
	cfg.DatabaseURL = uri
	cfg.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return Config{}, ValidationError{Msg: fmt.Sprintf("invalid port %q", p)}
		}
		cfg.Port = port
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		cfg.Database = path
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Password = pw
		}
	}
	if sp := u.Query().Get("search_path"); sp != "" {
		cfg.SchemaName = sp
	}
	return cfg, nil
}

// LoadConfigFromEnv loads a Config from environment variables, falling back
// to DefaultConfig for anything unset.
//
// Recognized variables:
//   - MESSAGESTORE_DATABASE_URL (if set, parsed and used as the connection
//     base instead of the discrete Host/Port/Database/User/Password/Schema
//     variables below)
//   - MESSAGESTORE_HOST, MESSAGESTORE_PORT, MESSAGESTORE_DATABASE
//   - MESSAGESTORE_USER, MESSAGESTORE_PASSWORD, MESSAGESTORE_SCHEMA
//   - MESSAGESTORE_MAX_POOL_SIZE, MESSAGESTORE_MIN_POOL_SIZE
//   - MESSAGESTORE_COMMAND_TIMEOUT_MS (milliseconds, e.g. "30000")
//   - MESSAGESTORE_LOG_LEVEL, MESSAGESTORE_LOG_FORMAT
//
// Pool sizing, command timeout, and log settings apply regardless of
// whether the connection itself came from MESSAGESTORE_DATABASE_URL or the
// discrete fields. Returns ErrConfig if a set variable fails to parse.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if v := os.Getenv("MESSAGESTORE_DATABASE_URL"); v != "" {
		parsed, err := ParseConfig(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		cfg = parsed
	} else {
		cfg = DefaultConfig()
		if v := os.Getenv("MESSAGESTORE_HOST"); v != "" {
			cfg.Host = v
		}
		if v := os.Getenv("MESSAGESTORE_PORT"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Config{}, ErrConfig
			}
			cfg.Port = n
		}
		if v := os.Getenv("MESSAGESTORE_DATABASE"); v != "" {
			cfg.Database = v
		}
		if v := os.Getenv("MESSAGESTORE_USER"); v != "" {
			cfg.User = v
		}
		if v := os.Getenv("MESSAGESTORE_PASSWORD"); v != "" {
			cfg.Password = v
		}
		if v := os.Getenv("MESSAGESTORE_SCHEMA"); v != "" {
			cfg.SchemaName = v
		}
	}

	if v := os.Getenv("MESSAGESTORE_MAX_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxPoolSize = int32(n)
	}
	if v := os.Getenv("MESSAGESTORE_MIN_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, ErrConfig
		}
		cfg.MinPoolSize = int32(n)
	}
	if v := os.Getenv("MESSAGESTORE_COMMAND_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.CommandTimeout = time.Duration(n) * time.Millisecond
	}
	if v := os.Getenv("MESSAGESTORE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MESSAGESTORE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if cfg.MinPoolSize > cfg.MaxPoolSize {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
