package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config корневая структура конфигурации сервера арены.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	Loops     LoopsConfig     `yaml:"loops"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
}

type ServerConfig struct {
	WSAddr      string `yaml:"ws_addr"`
	KCPAddr     string `yaml:"kcp_addr"` // пусто: KCP транспорт выключен
	RESTAddr    string `yaml:"rest_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// IdleTimeoutSeconds > 0 закрывает соединения, молчащие дольше этого времени
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	SendBuffer         int `yaml:"send_buffer"`
}

type GameConfig struct {
	MapWidth      float64 `yaml:"map_width"`
	MapHeight     float64 `yaml:"map_height"`
	MaxPlayers    int     `yaml:"max_players"`
	FoodSpawnRate float64 `yaml:"food_spawn_rate"`
	StartMass     float64 `yaml:"start_mass"`
	FoodMass      float64 `yaml:"food_mass"`
}

type LoopsConfig struct {
	TickIntervalMs  int `yaml:"tick_interval_ms"`
	SpawnIntervalMs int `yaml:"spawn_interval_ms"`
	SpawnBatch      int `yaml:"spawn_batch"`
}

type StorageConfig struct {
	Backend string       `yaml:"backend"` // memory | redis | badger
	Redis   RedisConfig  `yaml:"redis"`
	Badger  BadgerConfig `yaml:"badger"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // memory | nats
	Buffer    int    `yaml:"buffer"`
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type LoggingConfig struct {
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
	ToFile       bool   `yaml:"to_file"`
	Dir          string `yaml:"dir"`
	// Components уровни отдельных компонентов: network, world, api, eventbus, client
	Components map[string]string `yaml:"components"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type APIConfig struct {
	AdminSecret string `yaml:"admin_secret"`
}

// TickInterval период рассылки полного состояния
func (l LoopsConfig) TickInterval() time.Duration {
	return time.Duration(l.TickIntervalMs) * time.Millisecond
}

// SpawnInterval период появления еды
func (l LoopsConfig) SpawnInterval() time.Duration {
	return time.Duration(l.SpawnIntervalMs) * time.Millisecond
}

// IdleTimeout таймаут неактивного соединения (0: без таймаута)
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// Default возвращает конфигурацию из встроенного defaults.yaml
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: встроенный defaults.yaml некорректен: %v", err))
	}
	return &cfg
}

// Load читает YAML файл поверх значений по умолчанию.
// Если path == "", пытается взять путь из ENV ARENA_CONFIG; без файла возвращает дефолты.
// Перед чтением подгружает .env из рабочего каталога, если он есть.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("ARENA_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv переопределяет адреса и бэкенды из переменных окружения
func (c *Config) applyEnv() {
	c.Server.WSAddr = stringFromEnv("ARENA_WS_ADDR", c.Server.WSAddr)
	c.Server.KCPAddr = stringFromEnv("ARENA_KCP_ADDR", c.Server.KCPAddr)
	c.Server.RESTAddr = stringFromEnv("ARENA_REST_ADDR", c.Server.RESTAddr)
	c.Server.MetricsAddr = stringFromEnv("ARENA_METRICS_ADDR", c.Server.MetricsAddr)
	c.Storage.Backend = stringFromEnv("ARENA_STORAGE", c.Storage.Backend)
	c.Storage.Redis.Addr = stringFromEnv("ARENA_REDIS_ADDR", c.Storage.Redis.Addr)
	c.EventBus.Backend = stringFromEnv("ARENA_EVENTBUS", c.EventBus.Backend)
	c.EventBus.URL = stringFromEnv("ARENA_NATS_URL", c.EventBus.URL)
	c.API.AdminSecret = stringFromEnv("ARENA_ADMIN_SECRET", c.API.AdminSecret)
	c.Loops.TickIntervalMs = intFromEnv("ARENA_TICK_MS", c.Loops.TickIntervalMs)
	c.Loops.SpawnIntervalMs = intFromEnv("ARENA_SPAWN_MS", c.Loops.SpawnIntervalMs)
	c.Logging.Components = levelsFromEnv("ARENA_LOG_LEVELS", c.Logging.Components)
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	switch {
	case c.Loops.TickIntervalMs <= 0:
		return fmt.Errorf("loops.tick_interval_ms должен быть > 0, получено %d", c.Loops.TickIntervalMs)
	case c.Loops.SpawnIntervalMs <= 0:
		return fmt.Errorf("loops.spawn_interval_ms должен быть > 0, получено %d", c.Loops.SpawnIntervalMs)
	case c.Loops.SpawnBatch <= 0:
		return fmt.Errorf("loops.spawn_batch должен быть > 0, получено %d", c.Loops.SpawnBatch)
	case c.Game.MapWidth <= 0 || c.Game.MapHeight <= 0:
		return fmt.Errorf("размер карты должен быть положительным: %vx%v", c.Game.MapWidth, c.Game.MapHeight)
	case c.Game.MaxPlayers <= 0:
		return fmt.Errorf("game.max_players должен быть > 0")
	case c.Game.StartMass <= 0 || c.Game.FoodMass <= 0:
		return fmt.Errorf("стартовая масса и масса еды должны быть > 0")
	case c.Server.SendBuffer <= 0:
		return fmt.Errorf("server.send_buffer должен быть > 0")
	}

	switch c.Storage.Backend {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("неизвестный storage.backend: %q", c.Storage.Backend)
	}

	switch c.EventBus.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("неизвестный eventbus.backend: %q", c.EventBus.Backend)
	}
	return nil
}

// stringFromEnv возвращает значение с приоритетом: env -> config
func stringFromEnv(envVar, current string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return current
}

// intFromEnv возвращает число из env, если оно корректно и > 0
func intFromEnv(envVar string, current int) int {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return current
}

// levelsFromEnv дополняет уровни компонентов из строки вида "network=debug,api=warn"
func levelsFromEnv(envVar string, current map[string]string) map[string]string {
	v := os.Getenv(envVar)
	if v == "" {
		return current
	}
	out := make(map[string]string, len(current))
	for k, lvl := range current {
		out[k] = lvl
	}
	for _, pair := range strings.Split(v, ",") {
		component, lvl, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || component == "" {
			continue
		}
		out[strings.TrimSpace(component)] = strings.TrimSpace(lvl)
	}
	return out
}
