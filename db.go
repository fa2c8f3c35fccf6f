package main

import (
	"fmt"

	"loanmatch/config"
	"loanmatch/models"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openDB connects to Postgres and applies the pool limits from cfg.
func openDB(cfg config.DBConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return gdb, nil
}

// migrateDB runs AutoMigrate for each model on its own so a permission error on
// one table does not block the others. Failures are logged and counted.
func migrateDB(gdb *gorm.DB, logger *log.Logger) int {
	failed := 0
	for _, m := range models.All() {
		stmt := &gorm.Statement{DB: gdb}
		table := fmt.Sprintf("%T", m)
		if err := stmt.Parse(m); err == nil {
			table = stmt.Schema.Table
		}
		if err := gdb.AutoMigrate(m); err != nil {
			logger.Warn("migration warning", "table", table, "err", err)
			failed++
			continue
		}
		logger.Debug("migrated", "table", table)
	}
	return failed
}
