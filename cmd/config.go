package main

import "time"

type Config struct {
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=64"`
	ReadLimitBytes    int64         `env:"READ_LIMIT_BYTES,default=65536"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT,default=5s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=5s"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`
	StorageGCInterval time.Duration `env:"STORAGE_GC_INTERVAL,default=5m"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
}
