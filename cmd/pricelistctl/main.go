// Package main provides pricelistctl, the pricelistd operator CLI: resuming
// or reparsing stuck uploads, managing extraction schemas, and running
// ad-hoc comparisons from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/priceledger/pricelistd/internal/cache"
	"github.com/priceledger/pricelistd/internal/compare"
	"github.com/priceledger/pricelistd/internal/config"
	"github.com/priceledger/pricelistd/internal/extract"
	"github.com/priceledger/pricelistd/internal/ingest"
	"github.com/priceledger/pricelistd/internal/objectstore"
	"github.com/priceledger/pricelistd/internal/observability"
	"github.com/priceledger/pricelistd/internal/ocrclient"
	"github.com/priceledger/pricelistd/internal/progress"
	"github.com/priceledger/pricelistd/internal/render"
	"github.com/priceledger/pricelistd/internal/storage"
	"github.com/priceledger/pricelistd/internal/tableparse"
)

var (
	cfgFile     string
	outputJSON  bool
	noColor     bool
	workspaceID string

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "pricelistctl",
	Short: "Operator CLI for pricelistd ingest, schema, and comparison workflows",
	Long: `pricelistctl drives the same storage, object store, and ingest pipeline as
the pricelistd server, for operators who need to resume stuck uploads, manage
extraction schemas, or run an ad-hoc comparison outside the HTTP API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:  cfg.Observability.LogLevel,
			Format: logFormat,
		})

		ui = NewUI(outputJSON, noColor)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: env vars / built-in defaults)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "emit machine-readable JSON instead of formatted text")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable ANSI color output")
	rootCmd.PersistentFlags().StringVarP(&workspaceID, "workspace", "w", "", "workspace ID to operate in (required)")

	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newReparseCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newCompareCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requireWorkspace() error {
	if workspaceID == "" {
		return fmt.Errorf("--workspace is required")
	}
	return nil
}

// services bundles everything an ingest-driving subcommand needs; it mirrors
// pricelistd's own startup wiring minus the HTTP server.
type services struct {
	repos    *storage.Repositories
	objects  *objectstore.Store
	cache    cache.Client
	pipeline *ingest.Pipeline
	progress *progress.Broadcaster
}

func openServices(ctx context.Context) (*services, error) {
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(ctx, db, cfg.Database.Driver); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	repos := storage.NewRepositories(db)

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	cacheClient, err := newCacheClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to cache: %w", err)
	}

	renderer := render.New(render.Config{DPI: cfg.Ingestion.RenderDPI, LongEdgePx: cfg.Ingestion.RenderLongEdge})
	ocrClient := ocrclient.New(ocrclient.Config{
		ServerURL: cfg.OCR.ServerURL, Model: cfg.OCR.Model, Timeout: cfg.OCR.Timeout,
		RetryBaseDelay: cfg.Ingestion.RetryBaseDelay, RetryMaxDelay: cfg.Ingestion.RetryMaxDelay,
		RetryMaxAttempt: cfg.Ingestion.RetryMaxAttempt,
	})

	prog := progress.New()
	pipeline := ingest.New(repos, objects, renderer, ocrClient, prog, cacheClient, logger, cfg.Ingestion.OCRWorkerCount)

	return &services{repos: repos, objects: objects, cache: cacheClient, pipeline: pipeline, progress: prog}, nil
}

func newCacheClient(cfg *config.Config) (cache.Client, error) {
	if cfg.Cache.Driver == "redis" {
		return cache.NewRedisClient(cache.RedisConfig{
			Addr: cfg.Cache.Redis.Addr, Password: cfg.Cache.Redis.Password,
			DB: cfg.Cache.Redis.DB, PoolSize: cfg.Cache.Redis.PoolSize,
		})
	}
	return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
}

// watchProgress prints (or, in JSON mode, silently tracks) an upload's
// ingest progress until run returns, driven by the same broadcaster the
// pipeline publishes to during its own run.
func watchProgress(svc *services, uploadID string, run func() error) error {
	records, unsubscribe := svc.progress.Subscribe(uploadID)
	defer unsubscribe()

	var bar *mpbBarHandle
	done := make(chan error, 1)
	go func() { done <- run() }()

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return <-done
			}
			if bar == nil && rec.TotalPages > 0 {
				bar = newMpbBarHandle(ui, uploadID, rec.TotalPages)
			}
			if bar != nil {
				bar.setCurrent(rec.CurrentPage)
			} else {
				ui.Info("%s: %s", rec.State, rec.Message)
			}
			if rec.Terminal {
				if bar != nil {
					bar.close()
				}
				return <-done
			}
		case err := <-done:
			if bar != nil {
				bar.close()
			}
			return err
		}
	}
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <upload-id>",
		Short: "Resume a stuck or interrupted upload from its last pending page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}
			uploadID := args[0]

			ctx := context.Background()
			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.cache.Close()

			err = watchProgress(svc, uploadID, func() error {
				return svc.pipeline.Resume(ctx, workspaceID, uploadID)
			})
			return emitResult(map[string]string{"upload_id": uploadID, "action": "resume"}, err)
		},
	}
	return cmd
}

func newReparseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reparse <upload-id>",
		Short: "Reset every page of an upload to pending and re-OCR it from the stored page images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}
			uploadID := args[0]

			ctx := context.Background()
			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.cache.Close()

			err = watchProgress(svc, uploadID, func() error {
				return svc.pipeline.Reparse(ctx, workspaceID, uploadID)
			})
			return emitResult(map[string]string{"upload_id": uploadID, "action": "reparse"}, err)
		},
	}
	return cmd
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List, create, or set the default extraction schema for a company",
	}
	cmd.AddCommand(newSchemaListCmd())
	cmd.AddCommand(newSchemaCreateCmd())
	cmd.AddCommand(newSchemaSetDefaultCmd())
	return cmd
}

func newSchemaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every extraction schema in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.cache.Close()

			schemas, err := svc.repos.Schemas.ListByWorkspace(ctx, workspaceID)
			if err != nil {
				return err
			}

			if outputJSON {
				return emitResult(schemas, nil)
			}
			ui.Section("extraction schemas")
			rows := make([][]string, len(schemas))
			for i, s := range schemas {
				def := ""
				if s.IsDefault {
					def = "yes"
				}
				rows[i] = []string{s.ID, s.Company, s.Name, def}
			}
			ui.Table([]string{"id", "company", "name", "default"}, rows)
			return nil
		},
	}
}

func newSchemaCreateCmd() *cobra.Command {
	var (
		company     string
		name        string
		rowAnchor   string
		valueAnchor string
		melt        bool
		fillDown    bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new extraction schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}
			ctx := context.Background()
			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.cache.Close()

			schema := &storage.Schema{
				WorkspaceID: workspaceID,
				Company:     company,
				Name:        name,
				Config: storage.ExtractionConfig{
					RowAnchor:     rowAnchor,
					ValueAnchor:   valueAnchor,
					Melt:          melt,
					FillDownValue: fillDown,
				},
			}
			if err := schema.Config.Validate(); err != nil {
				return fmt.Errorf("invalid extraction config: %w", err)
			}
			if err := svc.repos.Schemas.Create(ctx, schema); err != nil {
				return err
			}
			ui.Success("created schema %s for %s", schema.ID, schema.Company)
			return emitResult(schema, nil)
		},
	}
	cmd.Flags().StringVar(&company, "company", "", "company this schema applies to (required)")
	cmd.Flags().StringVar(&name, "name", "", "schema name (required)")
	cmd.Flags().StringVar(&rowAnchor, "row-anchor", "", "row anchor column label (required)")
	cmd.Flags().StringVar(&valueAnchor, "value-anchor", "", "value anchor column label (required)")
	cmd.Flags().BoolVar(&melt, "melt", false, "melt wide value columns into long rows")
	cmd.Flags().BoolVar(&fillDown, "fill-down", false, "fill empty value-column cells down from the row above (not in melt mode)")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("row-anchor")
	_ = cmd.MarkFlagRequired("value-anchor")
	return cmd
}

func newSchemaSetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <schema-id>",
		Short: "Mark a schema as the default for its company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}
			schemaID := args[0]

			ctx := context.Background()
			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.cache.Close()

			existing, err := svc.repos.Schemas.GetByID(ctx, workspaceID, schemaID)
			if err != nil {
				return err
			}
			if err := svc.repos.Schemas.SetDefault(ctx, workspaceID, existing.Company, schemaID); err != nil {
				return err
			}
			ui.Success("%s is now the default schema for %s", schemaID, existing.Company)
			return emitResult(map[string]string{"schema_id": schemaID, "company": existing.Company}, nil)
		},
	}
}

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <base-upload-id> <target-upload-id>",
		Short: "Compare two uploads' extracted prices using their company's default schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWorkspace(); err != nil {
				return err
			}
			baseID, targetID := args[0], args[1]

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			svc, err := openServices(ctx)
			if err != nil {
				return err
			}
			defer svc.cache.Close()

			base, err := extractUploadCLI(ctx, svc, baseID)
			if err != nil {
				return fmt.Errorf("extract base upload: %w", err)
			}
			target, err := extractUploadCLI(ctx, svc, targetID)
			if err != nil {
				return fmt.Errorf("extract target upload: %w", err)
			}

			cacheKey := cache.WorkspaceCacheKey(workspaceID, "compare", baseID, targetID)
			result, err := compare.CachedCompare(ctx, svc.cache, cacheKey, base, target)
			if err != nil {
				return err
			}

			if outputJSON {
				return emitResult(result, nil)
			}
			ui.Section(fmt.Sprintf("compare %s -> %s", baseID, targetID))
			rows := make([][]string, len(result.Rows))
			for i, row := range result.Rows {
				rows[i] = []string{row.Reference, row.Variant, row.BaseValue, row.TargetValue, string(row.Status), compare.FormatChange(row)}
			}
			ui.Table([]string{"reference", "variant", "base", "target", "status", "change"}, rows)
			return nil
		},
	}
	return cmd
}

// extractUploadCLI loads an upload's pages and runs them through its
// company's default extraction schema, the same join resolveExtraction
// performs on the HTTP side of /compare.
func extractUploadCLI(ctx context.Context, svc *services, uploadID string) (*extract.Result, error) {
	upload, err := svc.repos.Uploads.GetByID(ctx, workspaceID, uploadID)
	if err != nil {
		return nil, err
	}
	schema, err := svc.repos.Schemas.GetDefaultForCompany(ctx, workspaceID, upload.Company)
	if err != nil {
		return nil, fmt.Errorf("no default schema for company %q: %w", upload.Company, err)
	}

	pages, err := svc.repos.Pages.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	inputs := make([]extract.PageInput, 0, len(pages))
	for _, pg := range pages {
		if pg.Markdown == nil {
			continue
		}
		inputs = append(inputs, extract.PageInput{PageNum: pg.PageNum, Tables: tableparse.Parse(*pg.Markdown)})
	}

	return extract.Extract(schema.Config, inputs), nil
}

// emitResult prints value as JSON when --json is set; otherwise it only
// surfaces a non-nil error, since the human-readable path has already
// printed its own output via ui.
func emitResult(value interface{}, err error) error {
	if err != nil {
		ui.Error("%v", err)
		return err
	}
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	return nil
}
