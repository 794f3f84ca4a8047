package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func sqliteDialector(cfg Config) (gorm.Dialector, error) {
	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}
	return sqlite.Open(dsn), nil
}

// sqliteDSN builds the go-sqlite3 DSN. File databases run in WAL mode and
// begin write transactions immediately so concurrent claims queue on the
// busy timeout instead of failing on lock upgrade.
func sqliteDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" || strings.EqualFold(path, ":memory:") {
		return fmt.Sprintf("file:shivanotify-%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()), nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", filepath.ToSlash(path)), nil
}
