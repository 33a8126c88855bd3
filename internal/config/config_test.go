package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dpc/sniper/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
persistence:
  driver: "postgres"
  postgres:
    host: "db.example.com"
    port: 5433
    user: "sniper"
    password: "secret"
    dbname: "sniper"
    sslmode: "require"
telemetry:
  service_name: "my-sniper"
  otlp_endpoint: "localhost:4318"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Persistence.Postgres.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Persistence.Postgres.Port, 5433)
				}
				if cfg.Telemetry.ServiceName != "my-sniper" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "my-sniper")
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `{}`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Persistence.Postgres.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Persistence.Postgres.Host, "localhost")
				}
				if cfg.Persistence.Driver != "memory" {
					t.Errorf("got driver %q, want %q", cfg.Persistence.Driver, "memory")
				}
				if cfg.Server.Addr != "0.0.0.0:3000" {
					t.Errorf("got addr %q, want %q", cfg.Server.Addr, "0.0.0.0:3000")
				}
				if cfg.Telemetry.ServiceName != "sniper" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "sniper")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "postgres driver accepted",
			yaml: `
persistence:
  driver: "postgres"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Persistence.Driver != "postgres" {
					t.Errorf("got driver %q, want %q", cfg.Persistence.Driver, "postgres")
				}
			},
		},
		{
			name: "invalid driver rejected",
			yaml: `
persistence:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "non-default addr rejected without escape hatch",
			yaml: `
server:
  addr: "127.0.0.1:8080"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
