package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calidad/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  host: db.internal
  port: 5433
  name: calidad
  user: etl
  password: secreta
microsoft_graph:
  tenant_id: tenant-1
  client_id: client-1
  client_secret: shh
source:
  drive_id: drive-1
  folder_id: folder-1
  file_name: BD EVALUACION DE CALIDAD DE PRODUCTO TERMINADO.xlsx
  sheet: CALIDAD PRODUCTO TERMINADO
  data_type: calidad_producto_terminado
scheduler:
  enabled: true
  cron: "*/10 * * * *"
api:
  addr: ":9090"
  jwt_secret: firmame
  token_ttl: 15m
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5433 {
		t.Errorf("database: %+v", cfg.Database)
	}
	if cfg.Graph.TenantID != "tenant-1" || cfg.Graph.ClientSecret != "shh" {
		t.Errorf("graph: %+v", cfg.Graph)
	}
	if cfg.Source.Sheet != "CALIDAD PRODUCTO TERMINADO" {
		t.Errorf("source: %+v", cfg.Source)
	}
	if cfg.Scheduler.Cron != "*/10 * * * *" || !cfg.Scheduler.Enabled {
		t.Errorf("scheduler: %+v", cfg.Scheduler)
	}
	if cfg.API.Addr != ":9090" || cfg.API.TokenTTL != 15*time.Minute {
		t.Errorf("api: %+v", cfg.API)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
database:
  driver: postgres
  name: calidad
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Host != "localhost" || cfg.Database.SSLMode != "disable" {
		t.Errorf("database defaults: %+v", cfg.Database)
	}
	if cfg.Graph.Scope != "https://graph.microsoft.com/.default" {
		t.Errorf("scope default: %q", cfg.Graph.Scope)
	}
	if cfg.Scheduler.Cron != "*/5 * * * *" {
		t.Errorf("cron default: %q", cfg.Scheduler.Cron)
	}
	if cfg.API.Addr != ":8080" || cfg.API.TokenTTL != 30*time.Minute || cfg.API.MaxLimit != 1000 {
		t.Errorf("api defaults: %+v", cfg.API)
	}
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("CALIDAD_DB_PASSWORD", "desde-entorno")
	t.Setenv("CALIDAD_GRAPH_CLIENT_SECRET", "otro-secreto")
	t.Setenv("CALIDAD_JWT_SECRET", "jwt-entorno")

	cfg, err := config.Load(writeConfig(t, `
database:
  driver: postgres
  name: calidad
  password: en-yaml
microsoft_graph:
  client_secret: en-yaml
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Password != "desde-entorno" {
		t.Errorf("db password not overridden: %q", cfg.Database.Password)
	}
	if cfg.Graph.ClientSecret != "otro-secreto" {
		t.Errorf("client secret not overridden: %q", cfg.Graph.ClientSecret)
	}
	if cfg.API.JWTSecret != "jwt-entorno" {
		t.Errorf("jwt secret not overridden: %q", cfg.API.JWTSecret)
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
database:
  driver: oracle
`))
	if err == nil || !strings.Contains(err.Error(), "unsupported database driver") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestLoad_SQLiteNeedsPath(t *testing.T) {
	_, err := config.Load(writeConfig(t, `
database:
  driver: sqlite
`))
	if err == nil {
		t.Fatal("expected error for sqlite without dsn or name")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "no-existe.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConnString(t *testing.T) {
	pg := config.DatabaseConfig{
		Driver: "postgres", Host: "localhost", User: "etl",
		Password: "pw", Name: "calidad", SSLMode: "disable",
	}
	got := pg.ConnString()
	if !strings.Contains(got, "port=5432") || !strings.Contains(got, "dbname=calidad") {
		t.Errorf("postgres dsn: %q", got)
	}

	my := config.DatabaseConfig{
		Driver: "mysql", Host: "127.0.0.1", Port: 3307,
		User: "etl", Password: "pw", Name: "calidad",
	}
	if got := my.ConnString(); got != "etl:pw@tcp(127.0.0.1:3307)/calidad?parseTime=true" {
		t.Errorf("mysql dsn: %q", got)
	}

	lite := config.DatabaseConfig{Driver: "sqlite", Name: "calidad.db"}
	if got := lite.ConnString(); !strings.HasPrefix(got, "calidad.db?") {
		t.Errorf("sqlite dsn: %q", got)
	}

	verbatim := config.DatabaseConfig{Driver: "postgres", DSN: "postgres://x"}
	if got := verbatim.ConnString(); got != "postgres://x" {
		t.Errorf("explicit dsn not passed through: %q", got)
	}
}
