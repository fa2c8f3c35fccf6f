// Package sanitize empties application tables for local resets.
package sanitize

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

// DefaultTables are the application tables, children first.
var DefaultTables = []string{"user_loan_matches", "user_profiles", "loan_products"}

// protectedTables hold the upload audit trail and are never truncated.
var protectedTables = map[string]bool{"csv_uploads": true}

var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Options struct {
	Tables []string
	DryRun bool
	Yes    bool
}

// Plan returns the requested tables that are valid identifiers and exist.
// Invalid, protected or missing names are logged and skipped.
func Plan(gdb *gorm.DB, tables []string, logger *log.Logger) []string {
	existing := []string{}
	for _, t := range tables {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !nameRe.MatchString(t) {
			logger.Warn("skipping invalid table name", "table", t)
			continue
		}
		if protectedTables[strings.ToLower(t)] {
			logger.Warn("skipping protected audit table", "table", t)
			continue
		}
		if !gdb.Migrator().HasTable(t) {
			logger.Info("table not found, skipping", "table", t)
			continue
		}
		existing = append(existing, t)
	}
	return existing
}

// Run truncates the planned tables. Nothing is changed unless DryRun is false
// and Yes is set.
func Run(ctx context.Context, gdb *gorm.DB, opts Options, out io.Writer, logger *log.Logger) ([]string, error) {
	if len(opts.Tables) == 0 {
		opts.Tables = DefaultTables
	}
	existing := Plan(gdb, opts.Tables, logger)
	if len(existing) == 0 {
		fmt.Fprintln(out, "no requested tables present in the database; nothing to do")
		return nil, nil
	}

	fmt.Fprintln(out, "Tables considered for truncation:")
	for _, t := range existing {
		fmt.Fprintf(out, " - %s\n", t)
	}
	if opts.DryRun {
		fmt.Fprintln(out, "dry-run enabled; no changes will be made. Use --dry-run=false --yes to execute.")
		return nil, nil
	}
	if !opts.Yes {
		fmt.Fprintln(out, "Destructive operation. Pass --yes to confirm execution. Aborting.")
		return nil, nil
	}

	// names were validated above, quoting keeps case intact
	quoted := make([]string, 0, len(existing))
	for _, t := range existing {
		quoted = append(quoted, fmt.Sprintf("%q", t))
	}
	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
	logger.Info("executing", "sql", stmt)
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := gdb.WithContext(ctx).Exec(stmt).Error; err != nil {
		return nil, fmt.Errorf("truncate failed: %w", err)
	}
	fmt.Fprintln(out, "Truncate completed.")
	return existing, nil
}
