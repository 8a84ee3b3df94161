package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/winnersdraw91/pacs-v2/internal/config"
	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/tenancy"
	"github.com/winnersdraw91/pacs-v2/internal/platform/auth"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
	"github.com/winnersdraw91/pacs-v2/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pacs-server",
		Short:        "Diagnostic imaging study workflow API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	if cfg.StoreDriver == config.StoreMemory && cfg.AuthSigningKey != "" {
		if err := seedMemoryAdmin(ctx, a, cfg, logger); err != nil {
			logger.Error().Err(err).Msg("failed to seed admin")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Str("storage", cfg.StorageDriver).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		_ = a.Close(context.Background())
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("enrichment workers did not finish")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// seedMemoryAdmin gives a fresh in-memory deployment a usable admin and
// prints a token for it.
func seedMemoryAdmin(ctx context.Context, a *app, cfg *config.Config, logger zerolog.Logger) error {
	u, err := bootstrapAdmin(ctx, a.tenancy, "admin@pacs.local", "Administrator")
	if err != nil {
		return err
	}
	token, err := auth.IssueToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, cfg.AuthAudience, u.Actor(), 24*time.Hour)
	if err != nil {
		return err
	}
	logger.Warn().Str("user_id", u.ID.String()).Str("token", token).Msg("seeded admin for the in-memory store")
	return nil
}

func withPool(fn func(ctx context.Context, cfg *config.Config, st *stores) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pgStores(pool))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.Files).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.Files).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue development tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an HS256 token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawID, _ := cmd.Flags().GetString("user-id")
			rawRole, _ := cmd.Flags().GetString("role")
			rawCentre, _ := cmd.Flags().GetString("centre-id")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			id, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("--user-id: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}

			var actor identity.Actor
			if rawRole == "" {
				// Read role and centre from the user record.
				err = withPool(func(ctx context.Context, _ *config.Config, st *stores) error {
					u, err := st.users.GetByID(ctx, id)
					if err != nil {
						return err
					}
					actor = u.Actor()
					return nil
				})
				if err != nil {
					return err
				}
			} else {
				role, err := identity.ParseRole(rawRole)
				if err != nil {
					return err
				}
				actor = identity.Actor{ID: id, Role: role}
				if rawCentre != "" {
					cid, err := uuid.Parse(rawCentre)
					if err != nil {
						return fmt.Errorf("--centre-id: %w", err)
					}
					actor.CentreID = &cid
				}
			}

			token, err := auth.IssueToken([]byte(cfg.AuthSigningKey), cfg.AuthIssuer, cfg.AuthAudience, actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issueCmd.Flags().String("user-id", "", "User the token is issued for")
	issueCmd.Flags().String("role", "", "Role claim; read from the database when empty")
	issueCmd.Flags().String("centre-id", "", "Centre claim")
	issueCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	_ = issueCmd.MarkFlagRequired("user-id")

	cmd.AddCommand(issueCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createCmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			return withPool(func(ctx context.Context, _ *config.Config, st *stores) error {
				svc := tenancy.NewService(st.centres, st.users, st.sources, st.tx)
				u, err := bootstrapAdmin(ctx, svc, email, name)
				if err != nil {
					return err
				}
				fmt.Printf("Created admin %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	}
	createCmd.Flags().String("email", "", "Admin email address")
	createCmd.Flags().String("name", "Administrator", "Admin full name")

	cmd.AddCommand(createCmd)
	return cmd
}
