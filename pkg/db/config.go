package db

import (
	"database/sql"
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "enrollpay.db"

// Config describes the ledger database connection.
type Config struct {
	Driver   string
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Pool     PoolConfig
}

type PoolConfig struct {
	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

func (p PoolConfig) apply(sqlDB *sql.DB) {
	sqlDB.SetMaxIdleConns(p.MaxIdle)
	sqlDB.SetMaxOpenConns(p.MaxOpen)
	sqlDB.SetConnMaxLifetime(p.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(p.MaxIdleTime)
}

// DSN renders the driver connection string. For sqlite Name is the file path.
func (c Config) DSN() (string, error) {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode), nil
	case "mysql":
		my := mysqldriver.NewConfig()
		my.User = c.User
		my.Passwd = c.Password
		my.Net = "tcp"
		my.Addr = net.JoinHostPort(c.Host, c.Port)
		my.DBName = c.Name
		my.ParseTime = true
		my.Loc = time.UTC
		my.Params = map[string]string{"charset": "utf8mb4"}
		return my.FormatDSN(), nil
	case "sqlite":
		if c.Name == "" {
			return defaultSQLiteFile, nil
		}
		return c.Name, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

func (c Config) Dialector() (gorm.Dialector, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}
	switch c.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}
