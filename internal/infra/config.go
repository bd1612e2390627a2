package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации control plane.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	KillSwitch KillSwitchConfig `mapstructure:"killswitch"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Backends   BackendsConfig   `mapstructure:"backends"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MetricsPath  string        `mapstructure:"metrics_path"`
}

// StorageConfig выбирает хранилище реестра триггеров: memory, sqlite, postgres.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (состояние kill-switch и сигналы).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig: авторизация операторов для kill-switch эндпоинтов.
type AuthConfig struct {
	// Operators: allow-list значений заголовка X-Operator-Id.
	Operators []OperatorConfig `mapstructure:"operators"`

	// Ключ проверки bearer-токенов операторов: RS256 (PEM) или HS256 (секрет).
	PublicKeyPath string `mapstructure:"public_key_path"`
	HMACSecret    string `mapstructure:"hmac_secret"`
	PublicKey     []byte
}

type OperatorConfig struct {
	ID string `mapstructure:"id"`
	// KeyHash: bcrypt-хэш ключа X-Operator-Key; пусто: достаточно заголовка.
	KeyHash string `mapstructure:"key_hash"`
}

// EngineConfig содержит настройки диспетчера.
type EngineConfig struct {
	DefaultBackend     string        `mapstructure:"default_backend"`
	BackendTimeout     time.Duration `mapstructure:"backend_timeout"`
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
	AuditFile          string        `mapstructure:"audit_file"`

	// Настройки Circuit Breaker для бэкендов воркфлоу
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures int           `mapstructure:"cb_max_failures"`
}

// SignerConfig: цепочка подписи токенов исполнения.
type SignerConfig struct {
	Issuer        string        `mapstructure:"issuer"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	RemoteURL     string        `mapstructure:"remote_url"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	KMSKeyID      string        `mapstructure:"kms_key_id"`
	KMSRegion     string        `mapstructure:"kms_region"`
	LocalSecret   string        `mapstructure:"local_secret"`
}

// PolicyConfig: источник правил PDP: file или postgres.
type PolicyConfig struct {
	Source    string `mapstructure:"source"`
	RulesPath string `mapstructure:"rules_path"`
}

type SimulationConfig struct {
	ReportDir string `mapstructure:"report_dir"`
	Secret    string `mapstructure:"secret"`
}

// KillSwitchConfig: хранилище состояния: memory, file, redis.
type KillSwitchConfig struct {
	Store     string `mapstructure:"store"`
	StatePath string `mapstructure:"state_path"`
}

type ReconcilerConfig struct {
	Interval time.Duration         `mapstructure:"interval"`
	Rules    []ReconcileRuleConfig `mapstructure:"rules"`
}

type ReconcileRuleConfig struct {
	Match    string `mapstructure:"match"`
	Issue    string `mapstructure:"issue"`
	Severity string `mapstructure:"severity"`
	Action   string `mapstructure:"action"`
}

// BackendsConfig: адреса бэкендов воркфлоу. Пустой адрес: бэкенд не регистрируется.
type BackendsConfig struct {
	TemporalAddr string `mapstructure:"temporal_addr"`
	DAGURL       string `mapstructure:"dag_url"`
	EchoEnabled  bool   `mapstructure:"echo_enabled"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig объединяет значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет: работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	if s := os.Getenv("SIGNER_LOCAL_SECRET_DATA"); s != "" {
		cfg.Signer.LocalSecret = s
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite_path", "./data/triggers.db")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("engine.default_backend", "temporal")
	v.SetDefault("engine.backend_timeout", 15*time.Second)
	v.SetDefault("engine.audit_buffer_size", 1000)
	v.SetDefault("engine.audit_flush_interval", 1*time.Second)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("signer.issuer", "spaceai-control-plane")
	v.SetDefault("signer.default_ttl", 300*time.Second)
	v.SetDefault("signer.remote_timeout", 3*time.Second)
	v.SetDefault("signer.local_secret", "dev-insecure-secret")
	v.SetDefault("policy.source", "file")
	v.SetDefault("policy.rules_path", "./configs/policy_rules.yaml")
	v.SetDefault("simulation.report_dir", "./data/simulations")
	v.SetDefault("simulation.secret", "dev-simulation-secret")
	v.SetDefault("killswitch.store", "file")
	v.SetDefault("killswitch.state_path", "./data/killswitch.json")
	v.SetDefault("reconciler.interval", 5*time.Minute)
	v.SetDefault("backends.echo_enabled", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource: сначала PEM прямо в ENV (Docker/K8s), иначе файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
