package database

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func postgresDialector(cfg Config) (gorm.Dialector, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return postgres.Open(dsn), nil
}

// buildPostgresDSN renders a keyword/value DSN. Sessions default to UTC so
// that timestamps written by the engine never pick up the server zone.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", missingCredentials("postgres")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	params := []string{
		"host=" + quotePostgres(host),
		"port=" + strconv.Itoa(port),
		"user=" + quotePostgres(cfg.User),
		"dbname=" + quotePostgres(cfg.Name),
	}
	if cfg.Password != "" {
		params = append(params, "password="+quotePostgres(cfg.Password))
	}

	options := map[string]string{
		"sslmode":          "disable",
		"TimeZone":         "UTC",
		"application_name": "shivanotify",
	}
	maps.Copy(options, cfg.Options)
	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		params = append(params, key+"="+quotePostgres(options[key]))
	}

	dsn := strings.Join(params, " ")
	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("postgres dsn: %w", err)
	}
	return dsn, nil
}

// quotePostgres quotes a keyword/value DSN value when it contains spaces,
// quotes or backslashes.
func quotePostgres(value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return value
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}
