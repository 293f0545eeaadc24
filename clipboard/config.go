package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config holds the flag defaults read from the environment (and .env).
type Config struct {
	Port       int      `env:"PORT" envDefault:"3000"`
	UploadDir  string   `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MaxUpload  int64    `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	MaxFrame   int64    `env:"MAX_FRAME_BYTES" envDefault:"52428800"`
	MaxHistory int      `env:"MAX_HISTORY" envDefault:"0"`
	SendBuffer int      `env:"SEND_BUFFER" envDefault:"256"`
	LogLevel   string   `env:"LOG_LEVEL" envDefault:"info"`
	HTTPS      bool     `env:"HTTPS" envDefault:"false"`
	TLSCert    string   `env:"TLS_CERT" envDefault:"cert.pem"`
	TLSKey     string   `env:"TLS_KEY" envDefault:"key.pem"`
	Relays     []string `env:"RELAY" envSeparator:","`
	Name       string   `env:"NAME" envDefault:"clipboard"`
	CredKey    string   `env:"CRED_KEY"`
	ServerURL  string   `env:"CLIPBOARD_URL" envDefault:"http://localhost:3000"`
}

// loadConfig reads an optional .env file and then the process environment.
func loadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Relays = cleanRelayURLs(cfg.Relays)
	return cfg, nil
}

func cleanRelayURLs(in []string) []string {
	out := lo.FilterMap(in, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	return lo.Uniq(out)
}
