package database

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func mysqlDialector(cfg Config) (gorm.Dialector, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return mysql.Open(dsn), nil
}

// buildMySQLDSN renders the DSN through the driver's own config so that
// options are validated the same way the driver will parse them.
func buildMySQLDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", missingCredentials("mysql")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	dc.DBName = cfg.Name
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Timeout = 10 * time.Second
	dc.Params = map[string]string{"charset": "utf8mb4"}
	for key, value := range cfg.Options {
		dc.Params[key] = value
	}

	// Round-trip so driver-level keys such as tls land in their typed fields.
	parsed, err := mysqldriver.ParseDSN(dc.FormatDSN())
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	return parsed.FormatDSN(), nil
}
