package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPath  = "../../.env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env     string
	Storage string
	DB      DB
	Server  Server
	Logger  Logger
}

type DB struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type Server struct {
	RunAddress string `env:"RUN_ADDRESS"`
}

type Logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// MustLoad reads .env (if any) and the environment. It exits on invalid
// values.
func MustLoad() *Config {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	cfg, err := FromViper(v)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromViper builds the server config from v, applying defaults. Without a
// DATABASE_URI the server keeps its state in memory.
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", "localhost:8080")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("log_level", "info")

	cfg := &Config{
		Env: strings.ToLower(v.GetString("app_env")),
		DB: DB{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: Server{RunAddress: v.GetString("run_address")},
		Logger: Logger{LogLevel: v.GetString("log_level")},
	}

	switch cfg.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return nil, fmt.Errorf("unknown APP_ENV %q", cfg.Env)
	}

	cfg.Storage = StorageMemory
	if cfg.DB.DatabaseURI != "" {
		cfg.Storage = StoragePostgres
	}
	if cfg.Env == EnvProd && cfg.Storage == StorageMemory {
		return nil, fmt.Errorf("DATABASE_URI is required in %s", EnvProd)
	}
	return cfg, nil
}
