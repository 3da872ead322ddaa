package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tier != domain.TierCommunity {
		t.Errorf("tier = %s, want %s", cfg.Tier, domain.TierCommunity)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("driver = %s, want sqlite", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("bus type = %s, want channel", cfg.EventBus.Type)
	}
	if !cfg.MonitoringEnabled {
		t.Error("monitoring should default to enabled")
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tier != domain.TierPro {
		t.Errorf("tier = %s, want %s", cfg.Tier, domain.TierPro)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("driver = %s, want postgres", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "kafka" {
		t.Errorf("bus type = %s, want kafka", cfg.EventBus.Type)
	}
	if !cfg.Cache.EnableTwoPhase {
		t.Error("pro tier should enable the two-phase cache")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("KESTREL_PORT", "9090")
	t.Setenv("KESTREL_ADMIN_ID", "ops")
	t.Setenv("KESTREL_ADMIN_TOKEN", "sekrit")
	t.Setenv("KESTREL_MONITORING_ENABLED", "false")
	t.Setenv("KESTREL_KAFKA_BROKERS", "b1:9092, b2:9092")
	t.Setenv("KESTREL_BUS_TYPE", "kafka")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Admin.ID != "ops" || cfg.Admin.Token != "sekrit" {
		t.Errorf("admin = %+v", cfg.Admin)
	}
	if cfg.MonitoringEnabled {
		t.Error("monitoring override not applied")
	}
	if len(cfg.EventBus.KafkaBrokers) != 2 || cfg.EventBus.KafkaBrokers[1] != "b2:9092" {
		t.Errorf("brokers = %v", cfg.EventBus.KafkaBrokers)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	body := []byte(`
server:
  port: 7070
admin:
  id: file-admin
thresholds:
  large_transfer_cutoff: 5000
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Admin.ID != "file-admin" {
		t.Errorf("admin id = %s, want file-admin", cfg.Admin.ID)
	}
	if cfg.Thresholds.LargeTransferCutoff != 5000 {
		t.Errorf("largeTransferCutoff = %d, want 5000", cfg.Thresholds.LargeTransferCutoff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"bad port", func(c *domain.Config) { c.Server.Port = 70000 }},
		{"missing admin", func(c *domain.Config) { c.Admin.ID = "" }},
		{"bad driver", func(c *domain.Config) { c.Repository.Driver = "flatfile" }},
		{"bad bus", func(c *domain.Config) { c.EventBus.Type = "smoke-signal" }},
		{"kafka without brokers", func(c *domain.Config) {
			c.EventBus.Type = "kafka"
			c.EventBus.KafkaBrokers = nil
		}},
		{"blend without oracle", func(c *domain.Config) {
			c.AIBlend.Enabled = true
			c.AIOracleURL = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
