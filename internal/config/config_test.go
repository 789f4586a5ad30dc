package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("RICE_PORT", "9090")
	t.Setenv("RICE_LOG_LEVEL", "debug")
	t.Setenv("RICE_EVAL_KS", "3,5")
	t.Setenv("QDRANT_TIMEOUT", "5s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}

	if len(cfg.Eval.Ks) != 2 || cfg.Eval.Ks[0] != 3 || cfg.Eval.Ks[1] != 5 {
		t.Errorf("Eval.Ks = %v, want [3 5]", cfg.Eval.Ks)
	}

	if cfg.Qdrant.Timeout != 5*time.Second {
		t.Errorf("Qdrant.Timeout = %v, want 5s", cfg.Qdrant.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
host: "127.0.0.1"
port: 8888
log:
  level: warn
  format: json
eval:
  ks: [5]
  grade: quality
  top_k: 20
fusion:
  configs:
    - name: bm25-heavy
      weights:
        sparse: 0.8
        dense: 0.2
    - name: rrf
      strategy: rrf
      top_k: 50
      weights:
        sparse: 1
        dense: 1
qdrant:
  url: "http://custom:6334"
  breaker_open_for: 1m
store:
  type: redis
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "127.0.0.1" || cfg.Port != 8888 {
		t.Errorf("Address() = %s, want 127.0.0.1:8888", cfg.Address())
	}

	if cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}

	if cfg.Eval.Grade != "quality" {
		t.Errorf("Eval.Grade = %s, want quality", cfg.Eval.Grade)
	}

	if len(cfg.Fusion.Configs) != 2 {
		t.Fatalf("got %d fusion configs, want 2", len(cfg.Fusion.Configs))
	}

	heavy, ok := cfg.FusionConfig("bm25-heavy")
	if !ok {
		t.Fatal("bm25-heavy missing")
	}
	if heavy.TopK != 20 {
		t.Errorf("bm25-heavy TopK = %d, want eval default 20", heavy.TopK)
	}
	if heavy.Weights["sparse"] != 0.8 {
		t.Errorf("bm25-heavy sparse weight = %v", heavy.Weights["sparse"])
	}

	if rrf, _ := cfg.FusionConfig("rrf"); rrf.TopK != 50 || rrf.Strategy != "rrf" {
		t.Errorf("rrf = %+v", rrf)
	}

	if cfg.Qdrant.URL != "http://custom:6334" || cfg.Qdrant.BreakerOpenFor != time.Minute {
		t.Errorf("Qdrant = %+v", cfg.Qdrant)
	}

	if cfg.Store.Type != "redis" {
		t.Errorf("Store.Type = %s, want redis", cfg.Store.Type)
	}
}

func TestLoad_InvalidFusionConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
fusion:
  configs:
    - name: broken
      weights:
        sparse: 0
        dense: 0
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if !apperrors.IsConfig(err) {
		t.Fatalf("Load() error = %v, want CONFIG_ERROR", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid grade",
			modify: func(c *Config) {
				c.Eval.Grade = "stance"
			},
			wantErr: true,
		},
		{
			name: "non-positive cutoff",
			modify: func(c *Config) {
				c.Eval.Ks = []int{5, 0}
			},
			wantErr: true,
		},
		{
			name: "no workers",
			modify: func(c *Config) {
				c.Eval.Workers = 0
			},
			wantErr: true,
		},
		{
			name: "duplicate fusion name",
			modify: func(c *Config) {
				c.Fusion.Configs = append(c.Fusion.Configs, c.Fusion.Configs[0])
			},
			wantErr: true,
		},
		{
			name: "negative fusion weight",
			modify: func(c *Config) {
				c.Fusion.Configs[0].Weights = map[string]float64{"sparse": -1}
			},
			wantErr: true,
		},
		{
			name: "invalid store type",
			modify: func(c *Config) {
				c.Store.Type = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid bus type",
			modify: func(c *Config) {
				c.Bus.Type = "nats"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultFusionConfigs(t *testing.T) {
	cfg := Default()
	for _, name := range []string{"sparse", "dense", "fused"} {
		fc, ok := cfg.FusionConfig(name)
		if !ok {
			t.Errorf("default fusion config %s missing", name)
			continue
		}
		if fc.TopK != cfg.Eval.TopK {
			t.Errorf("%s TopK = %d, want %d", name, fc.TopK, cfg.Eval.TopK)
		}
	}
	if _, ok := cfg.FusionConfig("other"); ok {
		t.Error("unexpected config")
	}
	if cfg.Retention() != 30*24*time.Hour {
		t.Errorf("Retention() = %v", cfg.Retention())
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{
		Host: "localhost",
		Port: 8080,
	}

	if addr := cfg.Address(); addr != "localhost:8080" {
		t.Errorf("Address() = %s, want localhost:8080", addr)
	}
}
