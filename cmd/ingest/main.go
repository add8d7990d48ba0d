package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blackmichael/bluesky-importer/internal/bluesky"
	"github.com/blackmichael/bluesky-importer/internal/config"
	"github.com/blackmichael/bluesky-importer/internal/domain"
	"github.com/blackmichael/bluesky-importer/internal/logging"
	"github.com/blackmichael/bluesky-importer/internal/sentiment"
	"github.com/blackmichael/bluesky-importer/internal/store"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := cli.App{
		Name:  "ingest",
		Usage: "import Bluesky posts into the database from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:      "search",
			Usage:     "import posts matching a search query",
			ArgsUsage: "<query>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: domain.DefaultSearchLimit},
				&cli.StringFlag{Name: "lang", Usage: "restrict results to a language code"},
			},
			Action: runSearch,
		},
		{
			Name:      "profile",
			Usage:     "import a profile and its recent posts",
			ArgsUsage: "<profile-url>",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "limit", Value: domain.DefaultProfileLimit},
			},
			Action: runProfile,
		},
		{
			Name:      "post",
			Usage:     "import a single post by URL",
			ArgsUsage: "<post-url>",
			Action:    runPost,
		},
		{
			Name:      "classify",
			Usage:     "print sentiment scores for a piece of text",
			ArgsUsage: "<text>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "classifier", Value: "vader", EnvVars: []string{"CLASSIFIER"}},
				&cli.StringFlag{Name: "model-path", EnvVars: []string{"CLASSIFIER_MODEL_PATH"}},
			},
			Action: runClassify,
		},
		{
			Name:  "migrate",
			Usage: "create the post and cursor tables",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "database-url", EnvVars: []string{"DATABASE_URL", "DB_URL"}, Required: true},
			},
			Action: runMigrate,
		},
	}
	app.RunAndExitOnError()
}

func newLogger(cctx *cli.Context) (*slog.Logger, error) {
	return logging.New(os.Stderr, cctx.String("log-format"), cctx.String("log-level"))
}

// withService loads configuration, opens the store and hands an import
// service to fn. The store is closed when fn returns.
func withService(cctx *cli.Context, fn func(ctx context.Context, svc *domain.ImportService) error) error {
	logger, err := newLogger(cctx)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cctx.Context
	st, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	collector := bluesky.NewCollector(bluesky.CollectorConfig{
		PDS:        cfg.PDS,
		WebBase:    cfg.WebURL,
		Identifier: cfg.Identifier,
		Password:   cfg.AppPassword,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.APIRate), cfg.APIBurst),
	}, logger)

	return fn(ctx, domain.NewImportService(collector, st, st, logger))
}

func requireArg(cctx *cli.Context, name string) (string, error) {
	s := strings.TrimSpace(strings.Join(cctx.Args().Slice(), " "))
	if s == "" {
		return "", fmt.Errorf("need to provide %s as an argument", name)
	}
	return s, nil
}

func runSearch(cctx *cli.Context) error {
	query, err := requireArg(cctx, "a query")
	if err != nil {
		return err
	}
	return withService(cctx, func(ctx context.Context, svc *domain.ImportService) error {
		res, err := svc.ImportSearch(ctx, domain.SearchRequest{
			Query: query,
			Limit: cctx.Int("limit"),
			Lang:  cctx.String("lang"),
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"inserted":  res.Inserted,
			"collected": res.Collected,
			"conflicts": res.Conflicts,
			"failed":    res.Failed,
		})
	})
}

func runProfile(cctx *cli.Context) error {
	profileURL, err := requireArg(cctx, "a profile URL")
	if err != nil {
		return err
	}
	return withService(cctx, func(ctx context.Context, svc *domain.ImportService) error {
		handle, res, err := svc.ImportProfile(ctx, domain.ProfileRequest{
			ProfileURL: profileURL,
			Limit:      cctx.Int("limit"),
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"user":           handle,
			"posts_inserted": res.Inserted,
			"collected":      res.Collected,
		})
	})
}

func runPost(cctx *cli.Context) error {
	postURL, err := requireArg(cctx, "a post URL")
	if err != nil {
		return err
	}
	return withService(cctx, func(ctx context.Context, svc *domain.ImportService) error {
		uri, res, err := svc.ImportPost(ctx, domain.PostRequest{URL: postURL})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"tweet_uri": uri,
			"inserted":  res.Failed == 0,
			"duplicate": res.Conflicts > 0,
		})
	})
}

func runClassify(cctx *cli.Context) error {
	text, err := requireArg(cctx, "text")
	if err != nil {
		return err
	}

	classifier, err := sentiment.New(cctx.String("classifier"), cctx.String("model-path"))
	if err != nil {
		return err
	}
	defer classifier.Close()

	scores, err := classifier.Classify(cctx.Context, domain.Sanitize(text))
	if err != nil {
		return err
	}
	top, _ := sentiment.Top(scores)
	return printJSON(map[string]any{"scores": scores, "top": top})
}

func runMigrate(cctx *cli.Context) error {
	logger, err := newLogger(cctx)
	if err != nil {
		return err
	}

	st, err := store.Open(cctx.Context, cctx.String("database-url"), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(cctx.Context); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("migrations applied", "dialect", st.Dialect())
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
