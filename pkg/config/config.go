// Package config loads tile server configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP   HTTP   `envPrefix:"HTTP_"`
		Logger Logger `envPrefix:"LOGGER_"`
		Redis  Redis  `envPrefix:"REDIS_"`
		Cache  Cache  `envPrefix:"CACHE_"`
		Tiles  Tiles  `envPrefix:"TILES_"`
		Source Source `envPrefix:"SOURCE_"`
		DB     DB     `envPrefix:"DB_"`
	}

	HTTP struct {
		Server Server `envPrefix:"SERVER_"`
	}

	Server struct {
		Port         string        `env:"PORT" envDefault:"8000"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
		IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	}

	Logger struct {
		Level  string `env:"LEVEL" envDefault:"info"`
		Pretty bool   `env:"PRETTY" envDefault:"false"`
	}

	Redis struct {
		Enabled  bool   `env:"ENABLED" envDefault:"false"`
		Addr     string `env:"ADDR" envDefault:"localhost:6379"`
		Password string `env:"PASSWORD" envDefault:""`
		DB       int    `env:"DB" envDefault:"0"`
	}

	Cache struct {
		TTL           time.Duration `env:"TTL" envDefault:"1h"`
		LocalCapacity int           `env:"LOCAL_CAPACITY" envDefault:"200"`
	}

	Tiles struct {
		Size         int    `env:"SIZE" envDefault:"256"`
		Quality      int    `env:"QUALITY" envDefault:"85"`
		ProxyQuality int    `env:"PROXY_QUALITY" envDefault:"90"`
		PublicDir    string `env:"PUBLIC_DIR" envDefault:"public"`
	}

	Source struct {
		AssetLookupURL string        `env:"ASSET_LOOKUP_URL" envDefault:"https://images-api.nasa.gov/asset/"`
		ProviderHost   string        `env:"PROVIDER_HOST" envDefault:"nasa.gov"`
		FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
		ClientTimeout  time.Duration `env:"CLIENT_TIMEOUT" envDefault:"30s"`
		PoolCapacity   int           `env:"POOL_CAPACITY" envDefault:"3"`
	}

	DB struct {
		Path string `env:"PATH" envDefault:"annotations.db"`
	}
)

func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
