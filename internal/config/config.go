/**
 * @description
 * This package handles configuration intake for the echo bot. Options are
 * supplied as CLI flags (pflag) and may alternatively be provided through
 * ECHO_-prefixed environment variables, with Viper merging the two sources.
 * Required options are enforced here, before any connection is attempted.
 *
 * @dependencies
 * - github.com/spf13/pflag: POSIX-style CLI flag parsing.
 * - github.com/spf13/viper: Flag/env merging and typed access.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 */

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all settings for the echo bot process.
type Config struct {
	Mnemonic         string
	EthereumRPC      string
	ConnextMessaging string
	ConnextNode      string
	PostgresHost     string
	PostgresPort     int
	PostgresUsername string
	PostgresPassword string
	PostgresDatabase string
	Port             int
	EchoDelay        time.Duration
	EchoConcurrency  int
	BalancePoll      time.Duration
	LogLevel         string
}

// Load parses the given CLI arguments (normally os.Args[1:]) and returns the
// resolved configuration. Missing required options and malformed flags are
// reported as errors without touching any external service.
func Load(args []string) (Config, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("echo-bot", pflag.ContinueOnError)
	fs.String("mnemonic", "", "wallet seed phrase")
	fs.String("ethereum", "", "Ethereum chain RPC endpoint")
	fs.String("connext-messaging", "", "relay messaging endpoint (amqp URL)")
	fs.String("connext-node", "", "payment network node endpoint")
	fs.String("postgres-host", "localhost", "database host")
	fs.Int("postgres-port", 5432, "database port")
	fs.String("postgres-username", "", "database user")
	fs.String("postgres-password", "", "database password")
	fs.String("postgres-database", "", "database name")
	fs.Int("port", 7600, "HTTP status server listen port")
	fs.Duration("echo-delay", time.Second, "delay before echoing a payment back to its sender")
	fs.Int("echo-concurrency", 10, "maximum concurrent echo transfer attempts")
	fs.Duration("balance-poll", time.Minute, "free-balance snapshot interval (0 disables)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix("ECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := Config{
		Mnemonic:         strings.TrimSpace(v.GetString("mnemonic")),
		EthereumRPC:      strings.TrimSpace(v.GetString("ethereum")),
		ConnextMessaging: strings.TrimSpace(v.GetString("connext-messaging")),
		ConnextNode:      strings.TrimSpace(v.GetString("connext-node")),
		PostgresHost:     v.GetString("postgres-host"),
		PostgresPort:     v.GetInt("postgres-port"),
		PostgresUsername: v.GetString("postgres-username"),
		PostgresPassword: v.GetString("postgres-password"),
		PostgresDatabase: v.GetString("postgres-database"),
		Port:             v.GetInt("port"),
		EchoDelay:        v.GetDuration("echo-delay"),
		EchoConcurrency:  v.GetInt("echo-concurrency"),
		BalancePoll:      v.GetDuration("balance-poll"),
		LogLevel:         v.GetString("log-level"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.Mnemonic == "" {
		missing = append(missing, "--mnemonic")
	}
	if c.EthereumRPC == "" {
		missing = append(missing, "--ethereum")
	}
	if c.ConnextNode == "" {
		missing = append(missing, "--connext-node")
	}
	if c.PostgresDatabase == "" {
		missing = append(missing, "--postgres-database")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required options: %s", strings.Join(missing, ", "))
	}

	// The node needs the inbound unlock settled before it accepts the
	// reciprocal transfer; a zero delay races that settlement.
	if c.EchoDelay <= 0 {
		return fmt.Errorf("--echo-delay must be positive, got %s", c.EchoDelay)
	}
	if c.EchoConcurrency <= 0 {
		return fmt.Errorf("--echo-concurrency must be positive, got %d", c.EchoConcurrency)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("--port out of range: %d", c.Port)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("--postgres-port out of range: %d", c.PostgresPort)
	}
	return nil
}

// PostgresDSN assembles the connection string for pgx from the individual
// postgres options.
func (c Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDatabase,
	}
	if c.PostgresUsername != "" {
		if c.PostgresPassword != "" {
			u.User = url.UserPassword(c.PostgresUsername, c.PostgresPassword)
		} else {
			u.User = url.User(c.PostgresUsername)
		}
	}
	return u.String()
}
