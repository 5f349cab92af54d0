package postgres

import (
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	valid := Config{
		URL:          defaultURL,
		PingTimeout:  2 * time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"zero ping timeout", func(c *Config) { c.PingTimeout = 0 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 11 }},
		{"negative lifetime", func(c *Config) { c.ConnMaxLifetime = -time.Second }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "many")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}
