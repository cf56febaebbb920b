package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/recruitly/cvsync/internal/backoff"
	"github.com/recruitly/cvsync/internal/config"
	"github.com/recruitly/cvsync/internal/crm"
	"github.com/recruitly/cvsync/internal/crmsync"
	"github.com/recruitly/cvsync/internal/database"
	"github.com/recruitly/cvsync/internal/logger"
	"github.com/recruitly/cvsync/internal/model"
	"github.com/recruitly/cvsync/internal/pipeline"
	"github.com/recruitly/cvsync/internal/queue"
	"github.com/recruitly/cvsync/internal/repository"
	"github.com/recruitly/cvsync/internal/s3storage"
	"github.com/recruitly/cvsync/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cvsync: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cvsync",
		Short:        "CV ingestion and CRM synchronization pipeline",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newWorkerCmd(),
		newSubmitCmd(),
		newRetryCmd(),
		newShowCmd(),
	)
	return cmd
}

// deps bundles everything a command wires together.
type deps struct {
	cfg     *config.Config
	log     *logrus.Logger
	pool    *pgxpool.Pool
	records *repository.CvHistoryRepository
	blobs   *s3storage.Storage
	tasks   *queue.Client
	asynqC  *asynq.Client
}

func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	blobs, err := s3storage.New(cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &deps{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		records: repository.NewCvHistoryRepository(pool),
		blobs:   blobs,
		tasks:   queue.NewClient(asynqClient, cfg.MaxSyncAttempts),
		asynqC:  asynqClient,
	}, nil
}

func (d *deps) close() {
	d.asynqC.Close()
	d.pool.Close()
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the extraction and CRM sync worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			policy := backoff.New(d.cfg.RetryBaseDelay, d.cfg.MaxSyncAttempts)
			policy.Jitter = true

			locks := crmsync.NewRedisLocker(redis.NewClient(&redis.Options{
				Addr:     d.cfg.RedisAddr,
				Password: d.cfg.RedisPassword,
				DB:       d.cfg.RedisDB,
			}))
			profiles := repository.NewCandidateRepository(d.pool)
			client := crm.NewHTTPClient(d.cfg.CRMBaseURL, d.cfg.CRMAPIKey, d.cfg.PushTimeout)
			engine := crmsync.NewEngine(d.records, profiles, client, locks, policy, d.log)
			processor := worker.NewProcessor(d.records, d.blobs, engine, d.log)

			srv := asynq.NewServer(asynq.RedisClientOpt{
				Addr:     d.cfg.RedisAddr,
				Password: d.cfg.RedisPassword,
				DB:       d.cfg.RedisDB,
			}, asynq.Config{
				Concurrency:    d.cfg.Workers,
				RetryDelayFunc: worker.RetryDelay(policy),
			})

			go func() {
				<-ctx.Done()
				srv.Shutdown()
			}()
			d.log.WithField("workers", d.cfg.Workers).Info("worker started")
			return srv.Run(processor.Handler())
		},
	}
}

func newSubmitCmd() *cobra.Command {
	var candidateID string
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Ingest a local CV file for a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			path := args[0]
			mimeType, err := mimeForFile(path)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open file: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat file: %w", err)
			}

			svc := pipeline.NewService(d.cfg, d.records, d.blobs, d.tasks, d.log)
			rec, err := svc.Submit(ctx, candidateID, filepath.Base(path), mimeType, info.Size(), f)
			if err != nil {
				if pipeline.Rejected(err) {
					return fmt.Errorf("upload rejected: %w", err)
				}
				return err
			}
			fmt.Printf("accepted %s (record %s, status %s)\n", rec.FileName, rec.ID, rec.SyncStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&candidateID, "candidate", "", "Owning candidate id")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <cv-history-id>",
		Short: "Reset a failed record and schedule a fresh sync attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			svc := pipeline.NewService(d.cfg, d.records, d.blobs, d.tasks, d.log)
			if err := svc.RetrySync(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("sync retry scheduled for %s\n", args[0])
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <cv-history-id>",
		Short: "Print a record's sync status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := buildDeps(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			rec, err := d.records.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func mimeForFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return model.MIMEPDF, nil
	case ".doc":
		return model.MIMEWordLegacy, nil
	case ".docx":
		return model.MIMEWordOpenXML, nil
	default:
		return "", fmt.Errorf("cannot determine document type for %s", path)
	}
}
