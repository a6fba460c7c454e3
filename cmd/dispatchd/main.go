package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"panicdispatch/auth"
	"panicdispatch/config"
	"panicdispatch/db"
	"panicdispatch/dispatch"
	"panicdispatch/feedback"
	"panicdispatch/fieldops"
	"panicdispatch/firm"
	"panicdispatch/logging"
	"panicdispatch/metrics"
	"panicdispatch/outbox"
	"panicdispatch/request"
)

// App holds the application dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	rdb    *redis.Client

	authService     *auth.Service
	dispatchService *dispatch.Service
	fieldService    *fieldops.Service
	feedbackService *feedback.Service
	firmService     *firm.Service
	reporter        *metrics.Reporter
}

var (
	configPath string
	app        *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Emergency request dispatch and accountability engine",
		Long:  `dispatchd runs the dispatch engine: request allocation, the field-response protocol, prank accountability, and response-time reporting.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				if app.logger != nil {
					app.logger.Sync()
				}
				if app.pool != nil {
					app.pool.Close()
				}
				if app.rdb != nil {
					app.rdb.Close()
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (defaults to dispatch_config.yaml lookup)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(addPersonnelCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(flaggedCmd())
	rootCmd.AddCommand(zonesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, pool, redis, and services.
func initApp(ctx context.Context) error {
	var err error
	app = &App{}

	if configPath != "" {
		app.cfg, err = config.LoadFromPath(configPath)
	} else {
		app.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app.logger, err = logging.InitLogger(app.cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.logger.Info("starting dispatchd", zap.String("environment", app.cfg.Environment))

	app.pool, err = db.NewPool(ctx, app.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.logger.Debug("database pool ready")

	if app.cfg.RedisAddr != "" {
		app.rdb = redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		app.logger.Debug("redis client ready", zap.String("addr", app.cfg.RedisAddr))
	}

	queue := outbox.NewQueue()
	requestRepo := request.NewRepository(app.pool)

	app.authService = auth.NewService(auth.NewRepository(app.pool), app.cfg.JWTSecret)
	app.dispatchService = dispatch.NewService(app.pool, requestRepo, dispatch.NewResponders(), queue)

	engine := feedback.NewEngine(feedback.EngineConfig{
		SuspendThreshold: app.cfg.Accountability.SuspendThreshold,
		BanThreshold:     app.cfg.Accountability.BanThreshold,
		FineCents:        app.cfg.Accountability.FineCents,
	}, queue)
	feedbackRepo := feedback.NewRepository(app.pool)
	app.feedbackService = feedback.NewService(app.pool, feedbackRepo, engine)

	classifier := metrics.NewCachedClassifier(metrics.GridClassifier{}, app.rdb, app.cfg.ZoneCacheTTL.Std())
	recorder := metrics.NewRecorder(classifier, app.logger)
	app.reporter = metrics.NewReporter(app.pool)

	app.fieldService = fieldops.NewService(app.pool, requestRepo, fieldops.NewRoster(), engine, recorder, queue)
	app.firmService = firm.NewService(firm.NewRepository(app.pool))

	return nil
}

// Command definitions

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the outbox worker until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app.logger.Info("serve: draining outbox")

			group, ctx := errgroup.WithContext(ctx)
			worker := outbox.NewWorker(app.pool, app.logger)
			group.Go(func() error {
				return worker.Run(ctx)
			})

			err := group.Wait()
			if err != nil && ctx.Err() != nil {
				// Normal shutdown via signal.
				app.logger.Info("serve: shutting down")
				return nil
			}
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations in lexical order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			applied, err := applyMigrations(cmd.Context(), app.pool, dir)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Printf("applied %s\n", name)
			}
			fmt.Printf("%d migration(s) applied\n", len(applied))
			return nil
		},
	}
	cmd.Flags().String("dir", "migrations", "Directory containing .sql migration files")
	return cmd
}

func addPersonnelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-personnel <firm_id> <email> <full_name>",
		Short: "Register a personnel account for a firm",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")
			teamID, _ := cmd.Flags().GetString("team")

			person, err := app.authService.Register(cmd.Context(), auth.RegisterRequest{
				FirmID:   args[0],
				TeamID:   teamID,
				Email:    args[1],
				FullName: args[2],
				Password: password,
				Role:     auth.Role(role),
			})
			if err != nil {
				return err
			}

			fmt.Printf("created %s (%s) as %s\n", person.FullName, person.ID, person.Role)
			return nil
		},
	}
	cmd.Flags().String("password", "", "Initial password (min 8 characters)")
	cmd.Flags().String("role", string(auth.RoleFieldAgent), "Role: dispatcher, field_agent, or firm_admin")
	cmd.Flags().String("team", "", "Team id for field agents")
	cmd.MarkFlagRequired("password")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <firm_id>",
		Short: "Show feedback statistics for a firm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			firmID := args[0]

			profile, err := app.firmService.GetByID(cmd.Context(), firmID)
			if err != nil {
				return fmt.Errorf("failed to load firm: %w", err)
			}

			var from, to *time.Time
			if raw, _ := cmd.Flags().GetString("from"); raw != "" {
				parsed, err := time.Parse("2006-01-02", raw)
				if err != nil {
					return fmt.Errorf("invalid --from date: %w", err)
				}
				from = &parsed
			}
			if raw, _ := cmd.Flags().GetString("to"); raw != "" {
				parsed, err := time.Parse("2006-01-02", raw)
				if err != nil {
					return fmt.Errorf("invalid --to date: %w", err)
				}
				to = &parsed
			}

			stats, err := app.feedbackService.FirmStats(cmd.Context(), firmID, from, to)
			if err != nil {
				return err
			}

			fmt.Printf("\nFeedback for %s\n\n", profile.Name)
			fmt.Printf("Total feedback:   %d\n", stats.Total)
			fmt.Printf("Prank flags:      %d (%.1f%%)\n", stats.PrankCount, stats.PrankPercentage)
			fmt.Printf("Rated:            %d\n", stats.RatedCount)
			fmt.Printf("Mean rating:      %.2f\n\n", stats.MeanRating)
			for i, count := range stats.RatingHistogram {
				fmt.Printf("  %d star: %d\n", i+1, count)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().String("from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "End date (YYYY-MM-DD)")
	return cmd
}

func flaggedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flagged <firm_id>",
		Short: "List users flagged for prank requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minFlags, _ := cmd.Flags().GetInt("min")
			limit, _ := cmd.Flags().GetInt("limit")

			users, err := app.feedbackService.FlaggedUsers(cmd.Context(), args[0], minFlags, limit)
			if err != nil {
				return err
			}

			if len(users) == 0 {
				fmt.Println("No flagged users.")
				return nil
			}
			fmt.Printf("\n%-38s %-16s %-10s %6s %6s\n", "USER", "PHONE", "STANDING", "TOTAL", "FIRM")
			for _, u := range users {
				fmt.Printf("%-38s %-16s %-10s %6d %6d\n", u.UserID, u.Phone, u.Standing, u.TotalFlags, u.FirmFlags)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().Int("min", 1, "Minimum prank flags to report")
	cmd.Flags().Int("limit", 20, "Maximum rows")
	return cmd
}

func zonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zones <firm_id>",
		Short: "Show average response times by zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := app.reporter.FirmZoneSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if len(summaries) == 0 {
				fmt.Println("No completed requests recorded.")
				return nil
			}
			fmt.Printf("\n%-30s %-12s %6s %10s %10s %10s\n", "ZONE", "SERVICE", "DONE", "RESPONSE", "ARRIVAL", "TOTAL")
			for _, s := range summaries {
				fmt.Printf("%-30s %-12s %6d %9.0fs %9.0fs %9.0fs\n",
					s.Zone, s.ServiceType, s.Completed,
					s.AvgResponseSeconds, s.AvgArrivalSeconds, s.AvgTotalSeconds)
			}
			fmt.Println()
			return nil
		},
	}
}

// applyMigrations runs every .sql file in dir, sorted by name, in one
// transaction per file. Files are idempotent so reruns are safe.
func applyMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return nil, fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}

	return names, nil
}
