package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"loanmatch/models"
	"loanmatch/pkg/ingest"
	"loanmatch/process/report"
	"loanmatch/process/sanitize"
	"loanmatch/process/watcher"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "loanmatch",
		Short:        "Loan matching admin service",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server", Args: cobra.NoArgs, RunE: runServe},
		newMigrateCmd(),
		newImportCmd(),
		newWatchCmd(),
		newReportCmd(),
		newAddProductCmd(),
		newSanitizeCmd(),
	)
	return root
}

// withApp builds the shared dependencies, migrates when DB_AUTO_MIGRATE is on,
// runs fn and releases them.
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.DB.AutoMigrate {
		migrateDB(a.db, a.logger)
	}
	return fn(a)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error { return a.serve() })
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if failed := migrateDB(a.db, a.logger); failed > 0 {
				return fmt.Errorf("%d table(s) failed to migrate", failed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration completed")
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Ingest a local CSV file of user profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !ingest.IsCSVName(path) {
				return ingest.ErrNotCSV
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(func(a *app) error {
				res, err := a.ingest.Ingest(cmd.Context(), filepath.Base(path), f)
				if err != nil {
					return fmt.Errorf("failed to process CSV: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "upload %d: successful=%d failed=%d new_users=%d\n", res.UploadID, res.Successful, res.Failed, len(res.NewUserIDs))
				for _, e := range a.ingest.SampleErrors(res) {
					fmt.Fprintf(out, "  %s\n", e)
				}
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest CSV files dropped into a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if dir == "" {
					dir = a.cfg.Watch.Dir
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return watcher.New(dir, a.cfg.Watch.Debounce, a.ingest, a.logger).Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default from WATCH_DIR)")
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		limit    int
		uploadID uint
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the upload audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if uploadID > 0 {
					return report.RunOne(cmd.Context(), cmd.OutOrStdout(), a.store, uploadID)
				}
				return report.Run(cmd.Context(), cmd.OutOrStdout(), a.store, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of uploads to list")
	cmd.Flags().UintVar(&uploadID, "upload", 0, "show a single upload and its error log")
	return cmd
}

type productFlags struct {
	name, provider, rate, minIncome string
	minCredit, maxCredit            int
	minAge, maxAge                  int
	employment, url                 string
}

func (f productFlags) product() (models.LoanProduct, error) {
	if strings.TrimSpace(f.name) == "" || strings.TrimSpace(f.provider) == "" {
		return models.LoanProduct{}, errors.New("--name and --provider are required")
	}
	rate, err := decimal.NewFromString(f.rate)
	if err != nil {
		return models.LoanProduct{}, fmt.Errorf("invalid --rate %q", f.rate)
	}
	minIncome, err := decimal.NewFromString(f.minIncome)
	if err != nil {
		return models.LoanProduct{}, fmt.Errorf("invalid --min-income %q", f.minIncome)
	}
	if f.minCredit > f.maxCredit || f.minAge > f.maxAge {
		return models.LoanProduct{}, errors.New("minimums must not exceed maximums")
	}
	p := models.LoanProduct{
		ProductName:    strings.TrimSpace(f.name),
		Provider:       strings.TrimSpace(f.provider),
		InterestRate:   rate.Round(2),
		MinIncome:      minIncome.Round(2),
		MinCreditScore: f.minCredit,
		MaxCreditScore: f.maxCredit,
		MinAge:         f.minAge,
		MaxAge:         f.maxAge,
	}
	if f.employment != "" {
		p.EmploymentRequired = &f.employment
	}
	if f.url != "" {
		p.ProductURL = &f.url
	}
	return p, nil
}

func newAddProductCmd() *cobra.Command {
	var f productFlags
	cmd := &cobra.Command{
		Use:   "add-product",
		Short: "Insert a loan product (for local testing)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.product()
			if err != nil {
				return err
			}
			return withApp(func(a *app) error {
				if err := a.store.CreateProduct(cmd.Context(), &p); err != nil {
					return err
				}
				_ = a.cache.Invalidate(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "created product %d: %s (%s)\n", p.ID, p.ProductName, p.Provider)
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "product name")
	fl.StringVar(&f.provider, "provider", "", "lender")
	fl.StringVar(&f.rate, "rate", "0", "interest rate in percent")
	fl.StringVar(&f.minIncome, "min-income", "0", "minimum monthly income")
	fl.IntVar(&f.minCredit, "min-credit", models.MinCreditScore, "minimum credit score")
	fl.IntVar(&f.maxCredit, "max-credit", models.MaxCreditScore, "maximum credit score")
	fl.IntVar(&f.minAge, "min-age", 18, "minimum age")
	fl.IntVar(&f.maxAge, "max-age", 65, "maximum age")
	fl.StringVar(&f.employment, "employment", "", "required employment status")
	fl.StringVar(&f.url, "url", "", "product page")
	return cmd
}

func newSanitizeCmd() *cobra.Command {
	var opts sanitize.Options
	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Truncate application tables (dry-run by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				done, err := sanitize.Run(cmd.Context(), a.db, opts, cmd.OutOrStdout(), a.logger)
				if err != nil {
					return err
				}
				if len(done) > 0 {
					_ = a.cache.Invalidate(cmd.Context())
				}
				return nil
			})
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVar(&opts.Tables, "tables", sanitize.DefaultTables, "comma-separated tables to truncate")
	fl.BoolVar(&opts.DryRun, "dry-run", true, "show what would be done without changing anything")
	fl.BoolVar(&opts.Yes, "yes", false, "confirm the destructive action")
	return cmd
}
