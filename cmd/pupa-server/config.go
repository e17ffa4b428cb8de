package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	gameListen      string
	apiListen       string
	logFormat       string
	logLevel        string
	metricsAddr     string
	mailboxBuffer   int
	mailboxPolicy   string
	logMetricsEvery time.Duration
	pendingCap      int
	winlogCap       int
	maxClients      int
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	gameListen := flag.String("game-listen", ":8000", "Game TCP listen address")
	apiListen := flag.String("api-listen", ":8001", "Admin API TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	mailboxBuf := flag.Int("mailbox-buffer", 10, "Per-peer outbound mailbox (frames)")
	mailboxPolicy := flag.String("mailbox-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	pendingCap := flag.Int("pending-cap", 500, "Pending message pool capacity")
	winlogCap := flag.Int("winlog-cap", 100, "Win log capacity")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous game clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 0, "Per-connection read deadline (0 = none)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the game port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default pupa-server-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.gameListen = *gameListen
	cfg.apiListen = *apiListen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.mailboxBuffer = *mailboxBuf
	cfg.mailboxPolicy = *mailboxPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.pendingCap = *pendingCap
	cfg.winlogCap = *winlogCap
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.mailboxPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid mailbox-policy: %s", c.mailboxPolicy)
	}
	if c.mailboxBuffer <= 0 {
		return fmt.Errorf("mailbox-buffer must be > 0 (got %d)", c.mailboxBuffer)
	}
	if c.pendingCap <= 0 {
		return fmt.Errorf("pending-cap must be > 0 (got %d)", c.pendingCap)
	}
	if c.winlogCap <= 0 {
		return fmt.Errorf("winlog-cap must be > 0 (got %d)", c.winlogCap)
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.clientReadTO < 0 {
		return fmt.Errorf("client-read-timeout must be >= 0")
	}
	if c.gameListen == c.apiListen {
		return fmt.Errorf("game-listen and api-listen must differ (both %s)", c.gameListen)
	}
	return nil
}

// applyEnvOverrides maps PUPA_SERVER_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins). The
// classic GAME_SERVER_PORT and API_SERVER_PORT variables are honored as
// port-only forms of the listen addresses.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["game-listen"]; !ok {
		if v, ok := get("PUPA_SERVER_GAME_LISTEN"); ok && v != "" {
			c.gameListen = v
		} else if v, ok := get("GAME_SERVER_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
				c.gameListen = ":" + v
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid GAME_SERVER_PORT: %q", v)
			}
		}
	}
	if _, ok := set["api-listen"]; !ok {
		if v, ok := get("PUPA_SERVER_API_LISTEN"); ok && v != "" {
			c.apiListen = v
		} else if v, ok := get("API_SERVER_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
				c.apiListen = ":" + v
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid API_SERVER_PORT: %q", v)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("PUPA_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("PUPA_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("PUPA_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mailbox-buffer"]; !ok {
		if v, ok := get("PUPA_SERVER_MAILBOX_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.mailboxBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid PUPA_SERVER_MAILBOX_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["mailbox-policy"]; !ok {
		if v, ok := get("PUPA_SERVER_MAILBOX_POLICY"); ok && v != "" {
			c.mailboxPolicy = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("PUPA_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid PUPA_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["pending-cap"]; !ok {
		if v, ok := get("PUPA_SERVER_PENDING_CAP"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.pendingCap = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid PUPA_SERVER_PENDING_CAP: %w", err)
			}
		}
	}
	if _, ok := set["winlog-cap"]; !ok {
		if v, ok := get("PUPA_SERVER_WINLOG_CAP"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.winlogCap = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid PUPA_SERVER_WINLOG_CAP: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("PUPA_SERVER_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid PUPA_SERVER_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("PUPA_SERVER_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid PUPA_SERVER_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("PUPA_SERVER_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("PUPA_SERVER_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
