package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	// Control surface
	ControlAddr     string        `envconfig:"CONTROL_ADDR" default:"127.0.0.1:7070"`
	RelayURL        string        `envconfig:"RELAY_URL" default:"http://localhost:8080"`
	SkipTLSVerify   bool          `envconfig:"SKIP_TLS_VERIFY" default:"false"`
	ReadyTimeout    time.Duration `envconfig:"READY_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	JournalPath     string        `envconfig:"JOURNAL_PATH" default:""`

	// Relay
	Port                 string        `envconfig:"PORT" default:"8080"`
	PublicHost           string        `envconfig:"PUBLIC_HOST" default:"localhost"`
	RegistrationDuration time.Duration `envconfig:"REGISTRATION_DURATION" default:"24h"`
	MaxConnectionsPerIP  int           `envconfig:"MAX_CONNECTIONS_PER_IP" default:"32"`
	EnableTLS            bool          `envconfig:"ENABLE_TLS" default:"false"`
	TLSCert              string        `envconfig:"TLS_CERT" default:""`
	TLSKey               string        `envconfig:"TLS_KEY" default:""`
	TrustedProxies       []string      `envconfig:"TRUSTED_PROXIES"`

	// Relay key store; memory when RedisHost is empty
	RedisHost     string `envconfig:"REDIS_HOST" default:""`
	RedisPort     string `envconfig:"REDIS_PORT" default:"6379"`
	RedisUsername string `envconfig:"REDIS_USERNAME" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Prefix is prepended to every variable name, e.g. HOLEDECK_RELAY_URL.
const Prefix = "HOLEDECK"

var Cfg Settings

// Read loads the given .env files (or ./.env when none are named) without
// overriding variables already set, then fills a Settings from the
// environment.
func Read(files ...string) (Settings, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Settings{}, err
		}
	}

	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func Load(files ...string) {
	s, err := Read(files...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg = s
}

// RedisAddr returns host:port of the relay key store, or "" when Redis is
// not configured.
func (s Settings) RedisAddr() string {
	if s.RedisHost == "" {
		return ""
	}
	return s.RedisHost + ":" + s.RedisPort
}
