package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
)

// 儲存層種類
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// EnvPrefix 覆寫設定用的環境變數前綴
const EnvPrefix = "LEDGER_"

// Config 服務設定
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	MySQL         mysql.Config        `yaml:"mysql"`
	Postgres      postgres.Config     `yaml:"postgres"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	GRPC          ServerConfig        `yaml:"grpc"`
	HTTP          ServerConfig        `yaml:"http"`
	AccountNumber AccountNumberConfig `yaml:"account_number"`
	Log           LogConfig           `yaml:"log"`
}

// StorageConfig 選擇儲存層
type StorageConfig struct {
	Driver  string `yaml:"driver"`   // memory | mysql | postgres
	WALPath string `yaml:"wal_path"` // memory 專用，空字串代表不落盤
}

// LedgerConfig 帳務核心參數
type LedgerConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	MaxPageSize  int           `yaml:"max_page_size"`
}

// ServerConfig 監聽位址，空字串代表不啟動
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AccountNumberConfig snowflake 節點
type AccountNumberConfig struct {
	Node int64 `yaml:"node"`
}

// LogConfig slog 設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Load 讀取設定檔，再以 .env 與 LEDGER_* 環境變數覆寫，最後補上預設值
//
// 參數:
//
//	path: yaml 路徑，檔案不存在時只使用環境變數與預設值
//
// 回傳值:
//
//	*Config: 設定
//	error: 檔案格式錯誤或設定值不合法
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config file not found, using defaults", slog.String("path", path))
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// .env 在正式環境可能不存在
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆寫位址與密碼等部署相關設定
func (c *Config) applyEnv() error {
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.WALPath, "STORAGE_WAL_PATH")
	setString(&c.MySQL.Host, "MYSQL_HOST")
	setString(&c.MySQL.User, "MYSQL_USER")
	setString(&c.MySQL.Password, "MYSQL_PASSWORD")
	setString(&c.MySQL.DBName, "MYSQL_DBNAME")
	setString(&c.Postgres.URL, "POSTGRES_URL")
	setString(&c.GRPC.Addr, "GRPC_ADDR")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if err := setInt(&c.MySQL.Port, "MYSQL_PORT"); err != nil {
		return err
	}
	if err := setInt64(&c.AccountNumber.Node, "ACCOUNT_NUMBER_NODE"); err != nil {
		return err
	}
	if err := setInt(&c.Ledger.MaxRetries, "MAX_RETRIES"); err != nil {
		return err
	}
	return setDuration(&c.Ledger.LockTimeout, "LOCK_TIMEOUT")
}

// applyDefaults 補全 yaml 與環境變數都沒寫的欄位
func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}

	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.MySQL.MaxOpenConns == 0 {
		c.MySQL.MaxOpenConns = 100
	}
	if c.MySQL.MaxIdleConns == 0 {
		c.MySQL.MaxIdleConns = 10
	}
	if c.MySQL.ConnMaxLifetime == 0 {
		c.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	if c.MySQL.ConnectRetries == 0 {
		c.MySQL.ConnectRetries = 10
	}
	if c.MySQL.ConnectRetryInterval == 0 {
		c.MySQL.ConnectRetryInterval = 2 * time.Second
	}
	if c.MySQL.LogLevel == "" {
		c.MySQL.LogLevel = "warn"
	}

	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 20
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 30 * time.Minute
	}

	if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = 3
	}
	if c.Ledger.RetryBackoff == 0 {
		c.Ledger.RetryBackoff = 10 * time.Millisecond
	}
	if c.Ledger.LockTimeout == 0 {
		c.Ledger.LockTimeout = 5 * time.Second
	}
	if c.Ledger.MaxPageSize == 0 {
		c.Ledger.MaxPageSize = 100
	}
	if c.MySQL.LockWaitTimeout == 0 {
		c.MySQL.LockWaitTimeout = c.Ledger.LockTimeout
	}

	if c.GRPC.Addr == "" && c.HTTP.Addr == "" {
		c.GRPC.Addr = ":50051"
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate 檢查設定值
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == DriverPostgres && c.Postgres.URL == "" {
		return errors.New("postgres.url is required for the postgres driver")
	}
	if c.Storage.Driver == DriverMySQL && c.MySQL.Host == "" {
		return errors.New("mysql.host is required for the mysql driver")
	}
	if c.AccountNumber.Node < 0 || c.AccountNumber.Node > 1023 {
		return fmt.Errorf("account_number.node %d out of range 0..1023", c.AccountNumber.Node)
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("ledger.max_retries must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel 將設定中的 level 字串轉為 slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger 依 LogConfig 建立 slog.Logger
func (l LogConfig) NewLogger() *slog.Logger {
	level, err := ParseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}
