package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"coffee-kds/internal/config"
)

// MySQLDSN renders the POS connection string. Receipt dates are stored in
// local time by the till, so timestamps are parsed in time.Local.
func MySQLDSN(cfg config.POSConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Timeout = pingTTL
	return mc.FormatDSN()
}

// ConnectPOS opens the read-only point-of-sale database.
func ConnectPOS(ctx context.Context, cfg config.POSConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open pos database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	for i := 1; i <= maxRetries; i++ {
		pctx, cancel := context.WithTimeout(ctx, pingTTL)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			return db, nil
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("pos ping canceled: %w", ctx.Err())
		}
	}

	_ = db.Close()
	return nil, fmt.Errorf("pos database unreachable after %d attempts: %w", maxRetries, err)
}
