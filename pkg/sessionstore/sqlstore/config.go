// Package sqlstore is the server-persisted Session Store variant (spec §9:
// "storage implicit in the browser... so non-browser hosts (servers,
// native) can plug their own"), backed by gorm over Postgres or sqlite.
// Grounded on the teacher's database.go: same config shape, same
// postgres-schema-then-goose-migrate-then-gorm-open sequence for Postgres,
// same gorm.AutoMigrate path for sqlite.
package sqlstore

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Config configures the gorm-backed session store.
type Config struct {
	Driver   string `validate:"required,oneof=postgres sqlite"`
	Name     string
	Schema   string
	Username string
	Password string
	Host     string
	Port     string
}

// DefaultConfig returns an in-memory sqlite configuration, adequate for
// tests and single-process deployments.
func DefaultConfig() Config {
	return Config{Driver: "sqlite"}
}

// Connect opens (and, for Postgres, migrates) the database described by
// cfg and returns a ready-to-use *gorm.DB.
func Connect(cfg Config) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return connectPostgres(cfg)
	case "sqlite", "":
		return connectSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

func connectPostgres(cfg Config) (*gorm.DB, error) {
	if err := ensureSchema(cfg); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := migratePostgres(cfg); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	dsn := postgresDSN(cfg)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: schemaPrefix(cfg.Schema)},
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func connectSQLite(cfg Config) (*gorm.DB, error) {
	dsn := "file::memory:?cache=shared"
	if cfg.Name != "" {
		dsn = fmt.Sprintf("file:%s?cache=shared", cfg.Name)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: schemaPrefix(cfg.Schema)},
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return db, nil
}

func schemaPrefix(schemaName string) string {
	if schemaName == "" {
		return ""
	}
	return schemaName + "."
}

func postgresDSN(cfg Config) string {
	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Name,
	)
	if cfg.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, cfg.Schema)
	}
	return dsn
}

func ensureSchema(cfg Config) error {
	if cfg.Schema == "" {
		return nil
	}
	bare := cfg
	bare.Schema = ""
	db, err := sqlx.Connect("postgres", postgresDSN(bare))
	if err != nil {
		return err
	}
	defer db.Close()

	var count int
	query := "SELECT count(*) FROM information_schema.schemata WHERE schema_name=$1"
	if err := db.Get(&count, query, cfg.Schema); err != nil {
		return fmt.Errorf("check schema existence: %w", err)
	}
	if count > 0 {
		return nil
	}

	safeSchema := strings.ReplaceAll(cfg.Schema, `"`, `""`)
	if _, err := db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, safeSchema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func migratePostgres(cfg Config) error {
	db, err := goose.OpenDBWithDriver("postgres", postgresDSN(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Schema != "" {
		if _, err := db.Exec(fmt.Sprintf("SET search_path TO %s", cfg.Schema)); err != nil {
			return fmt.Errorf("set search path: %w", err)
		}
	}

	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	return goose.Up(db, "migrations/postgres")
}
