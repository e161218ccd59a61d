package config

import "github.com/caarlos0/env/v11"

type DB struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"comanda"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"comanda"`
}

type MQ struct {
	Host     string `env:"MQ_HOST" envDefault:"localhost"`
	Port     int    `env:"MQ_PORT" envDefault:"5672"`
	User     string `env:"MQ_USER" envDefault:"guest"`
	Password string `env:"MQ_PASSWORD" envDefault:"guest"`
}

type App struct {
	Database DB
	Rabbit   MQ

	HTTPPort int    `env:"HTTP_PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Dishes with post-decrement stock at or below this raise a low-stock
	// advisory. Ingredients use their own min-stock field.
	LowStockThreshold float64 `env:"LOW_STOCK_THRESHOLD" envDefault:"5"`
}

func Load() (App, error) {
	var a App
	if err := env.Parse(&a); err != nil {
		return App{}, err
	}
	return a, nil
}
