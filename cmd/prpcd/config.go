package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pushrpc/prpc/broker"
)

// Config is the daemon configuration.
type Config struct {
	Listen string
	Mount  string
	MCP    bool
	Broker broker.Options
}

func defaultConfig() Config {
	return Config{
		Listen: ":8080",
		Mount:  "/api/prpc",
	}
}

type fileConfig struct {
	Listen string `toml:"listen"`
	Mount  string `toml:"mount"`
	MCP    bool   `toml:"mcp"`

	Broker struct {
		AppID  string `toml:"app_id"`
		Key    string `toml:"key"`
		Secret string `toml:"secret"`
		Host   string `toml:"host"`
		Secure bool   `toml:"secure"`
	} `toml:"broker"`
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("listen") {
		if v := strings.TrimSpace(raw.Listen); v != "" {
			cfg.Listen = v
		}
	}
	if meta.IsDefined("mount") {
		if v := strings.TrimSpace(raw.Mount); v != "" {
			cfg.Mount = "/" + strings.Trim(v, "/")
		}
	}
	if meta.IsDefined("mcp") {
		cfg.MCP = raw.MCP
	}

	cfg.Broker = broker.Options{
		AppID:  strings.TrimSpace(raw.Broker.AppID),
		Key:    strings.TrimSpace(raw.Broker.Key),
		Secret: strings.TrimSpace(raw.Broker.Secret),
		Host:   strings.TrimSpace(raw.Broker.Host),
		Secure: raw.Broker.Secure,
	}
	if cfg.Broker.AppID == "" || cfg.Broker.Key == "" || cfg.Broker.Secret == "" {
		return Config{}, fmt.Errorf("config %s: broker app_id, key and secret are required", path)
	}

	return cfg, nil
}
