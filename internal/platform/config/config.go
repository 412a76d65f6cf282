package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures one replica's process configuration.
type Server struct {
	// Addr is the HTTP listen address for the admin/read surface.
	Addr string
	// HomeDomain is the domain id this replica is authoritative for.
	HomeDomain uint64
	// SenderAddress is the address this replica signs outbound envelopes
	// with; peers must allow-list it for our domain.
	SenderAddress string
	// AdminToken guards the admin HTTP surface.
	AdminToken string
	// KafkaBrokers enables the broker transport when non-empty.
	KafkaBrokers []string
	// RedisURL enables Redis-backed sync state when non-empty.
	RedisURL string
	// PostgresDSN enables the Postgres directory store when non-empty.
	PostgresDSN string
	// DelegationKey signs and verifies off-chain authorization tokens.
	DelegationKey string
}

// RedisConfig tunes the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays
// lean.
func FromEnv() Server {
	addr := os.Getenv("CHAINDIR_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	home, err := strconv.ParseUint(os.Getenv("CHAINDIR_HOME_DOMAIN"), 10, 64)
	if err != nil {
		home = 1
	}

	var brokers []string
	if raw := os.Getenv("CHAINDIR_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	adminToken := os.Getenv("CHAINDIR_ADMIN_TOKEN")
	if adminToken == "" {
		// Development default; override in production.
		adminToken = "dev-admin-token"
	}

	delegationKey := os.Getenv("CHAINDIR_DELEGATION_KEY")
	if delegationKey == "" {
		delegationKey = "dev-delegation-key-change-in-production"
	}

	return Server{
		Addr:          addr,
		HomeDomain:    home,
		SenderAddress: os.Getenv("CHAINDIR_SENDER_ADDRESS"),
		AdminToken:    adminToken,
		KafkaBrokers:  brokers,
		RedisURL:      os.Getenv("CHAINDIR_REDIS_URL"),
		PostgresDSN:   os.Getenv("CHAINDIR_POSTGRES_DSN"),
		DelegationKey: delegationKey,
	}
}

// Redis builds the Redis client config with defaults suited to the sync
// state's small keys.
func (s Server) Redis() RedisConfig {
	return RedisConfig{
		URL:          s.RedisURL,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
}
