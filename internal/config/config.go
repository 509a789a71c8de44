package config

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server-side settings
	DatabaseDSN string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	MetricsAddr string `env:"METRICS_ADDR"`

	// Shared settings
	BaseURL     string `env:"BASE_URL"`
	EnableHTTPS bool   `env:"ENABLE_HTTPS"`

	// Client-side settings
	ServerURL        string        `env:"-"`
	ClientDBPath     string        `env:"CLIENT_DB_PATH"`
	KeystoreDir      string        `env:"KEYSTORE_DIR"`
	NodeURL          string        `env:"NODE_URL"`
	Network          string        `env:"NETWORK"`
	NodeRPS          float64       `env:"NODE_RPS"`
	ScanBatchSize    int           `env:"SCAN_BATCH_SIZE"`
	ScanWorkers      int           `env:"SCAN_WORKERS"`
	ConfirmTimeout   time.Duration `env:"CONFIRM_TIMEOUT"`
	ConfirmPoll      time.Duration `env:"CONFIRM_POLL"`
	UnconfirmedAfter time.Duration `env:"UNCONFIRMED_AFTER"`
	SessionTTL       time.Duration `env:"SESSION_TTL"`
	BackupBatch      int           `env:"BACKUP_BATCH"`
	Version          bool          `env:"-"` // show client version and exit (flag only)
}

func NewConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	_ = env.Parse(cfg)

	// flags работают ТОЛЬКО если переменные из env не заданы
	// Server flags
	flag.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "строка подключения к БД (postgres:// или путь к sqlite)")
	flag.StringVar(&cfg.AuthSecret, "auth-secret", cfg.AuthSecret, "секрет для подписи JWT")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "адрес для /metrics (если пусто, отдаётся на основном адресе)")
	// Shared/client flags
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "address of the backup server (host:port)")
	flag.BoolVar(&cfg.EnableHTTPS, "https", cfg.EnableHTTPS, "enable HTTPS (client: prefer https scheme for BaseURL)")
	// Client flags
	flag.StringVar(&cfg.ClientDBPath, "client-db", cfg.ClientDBPath, "directory with per-address wallet databases")
	flag.StringVar(&cfg.KeystoreDir, "keystore", cfg.KeystoreDir, "directory of the encrypted key store")
	flag.StringVar(&cfg.NodeURL, "node", cfg.NodeURL, "node REST API URL")
	flag.StringVar(&cfg.Network, "network", cfg.Network, "network name")
	flag.Float64Var(&cfg.NodeRPS, "node-rps", cfg.NodeRPS, "node requests per second")
	flag.IntVar(&cfg.ScanBatchSize, "scan-batch", cfg.ScanBatchSize, "blocks per scan batch")
	flag.IntVar(&cfg.ScanWorkers, "scan-workers", cfg.ScanWorkers, "parallel block fetchers")
	flag.DurationVar(&cfg.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "how long to watch a broadcast transaction")
	flag.DurationVar(&cfg.ConfirmPoll, "confirm-poll", cfg.ConfirmPoll, "transaction status poll interval")
	flag.DurationVar(&cfg.UnconfirmedAfter, "unconfirmed-after", cfg.UnconfirmedAfter, "age after which a pending transaction is failed")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "view key session lifetime")
	flag.IntVar(&cfg.BackupBatch, "backup-batch", cfg.BackupBatch, "rows per backup request")
	flag.BoolVar(&cfg.Version, "version", cfg.Version, "Show client version and exit")

	flag.Parse()

	cfg.applyDefaults()
	return cfg
}

// validate BaseURL: must be in "address:port" (no scheme, no path). Otherwise use default.
var hostPortRe = regexp.MustCompile(`^[A-Za-z0-9\.\-]+:\d{1,5}$`)

func (cfg *Config) applyDefaults() {
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "dev-secret-key"
	}
	if !hostPortRe.MatchString(cfg.BaseURL) {
		cfg.BaseURL = "localhost:8081"
	}
	if cfg.EnableHTTPS {
		cfg.ServerURL = "https://" + cfg.BaseURL
	} else {
		cfg.ServerURL = "http://" + cfg.BaseURL
	}

	// Fill client defaults if empty
	home, _ := os.UserHomeDir()
	if cfg.ClientDBPath == "" {
		cfg.ClientDBPath = filepath.Join(home, ".avail", "db")
	}
	if cfg.KeystoreDir == "" {
		cfg.KeystoreDir = filepath.Join(home, ".avail", "keys")
	}
	if cfg.NodeURL == "" {
		cfg.NodeURL = "http://localhost:3030"
	}
	if cfg.Network == "" {
		cfg.Network = "testnet"
	}
	if cfg.NodeRPS <= 0 {
		cfg.NodeRPS = 10
	}
	if cfg.ScanBatchSize <= 0 {
		cfg.ScanBatchSize = 49
	}
	if cfg.ScanWorkers <= 0 {
		cfg.ScanWorkers = 4
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 180 * time.Second
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 5 * time.Second
	}
	if cfg.UnconfirmedAfter <= 0 {
		cfg.UnconfirmedAfter = 10 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.BackupBatch <= 0 || cfg.BackupBatch > 300 {
		cfg.BackupBatch = 300
	}
}
