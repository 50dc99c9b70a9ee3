package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/apierror"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/auth"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/config"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/db"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/endpoint"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/exact"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/metrics"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/pathutil"
)

const lastDivisionKey = "last_division"

// app wires the components shared by the API commands.
type app struct {
	cfg      *config.Config
	paths    *pathutil.PathResolver
	provider auth.Provider
	client   *exact.Client
	registry *endpoint.Registry
	metrics  *metrics.Metrics
	conn     *db.Connection
	history  *db.History
	runID    string
}

// loadSettings loads configuration and resolves local paths.
func loadSettings() (*config.Config, *pathutil.PathResolver) {
	cfg, err := config.Load(getConfigFile())
	exitOnError(err, "failed to load configuration")

	if cfg.Debug && !debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	paths, err := pathutil.New(pathutil.Config{
		StateDir:     cfg.State.StateDir,
		DatabasePath: cfg.State.DBPath,
		TokenPath:    cfg.State.TokenFile,
		MetricsPath:  metricsFile,
	})
	exitOnError(err, "failed to resolve paths")

	return cfg, paths
}

// newApp loads configuration and builds the API client. The history
// database is opened unless --no-history is set.
func newApp() *app {
	cfg, paths := loadSettings()

	provider, err := newProvider(cfg, paths)
	exitOnError(err, "invalid configuration")

	registry, err := endpoint.LoadEmbedded()
	exitOnError(err, "failed to load endpoint tables")

	m := metrics.New()
	client := exact.NewClient(provider,
		exact.WithMetrics(m),
		exact.WithLogger(slog.Default()),
	)

	a := &app{
		cfg:      cfg,
		paths:    paths,
		provider: provider,
		client:   client,
		registry: registry,
		metrics:  m,
		runID:    db.NewRunID(),
	}

	if !noHistory {
		dbPath := paths.GetDatabasePath()
		slog.Debug("Opening database", "path", dbPath)
		conn, err := db.Open(dbPath)
		exitOnError(err, "failed to open database")
		a.conn = conn
		a.history = db.NewHistory(conn)
	}

	slog.Debug("Client ready", "base_url", provider.BaseURL(), "mode", provider.Mode(), "run_id", a.runID)
	return a
}

// newProvider builds the credential provider for the configured mode.
func newProvider(cfg *config.Config, paths *pathutil.PathResolver) (auth.Provider, error) {
	mode, err := auth.ParseMode(cfg.Exact.AuthMode)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(config.RequiredFor(string(mode))...); err != nil {
		return nil, err
	}

	if mode == auth.ModeAccessToken {
		return auth.NewAccessToken(cfg.Exact.APIURL, cfg.Exact.AccessToken, cfg.Exact.HTTPTimeout), nil
	}
	return auth.NewOAuth2(auth.OAuth2Config{
		BaseURL:      cfg.Exact.APIURL,
		ClientID:     cfg.Exact.ClientID,
		ClientSecret: cfg.Exact.ClientSecret,
		RedirectURL:  cfg.Exact.RedirectURI,
		RefreshToken: cfg.Exact.RefreshToken,
		Store:        auth.NewTokenStore(paths.GetTokenPath()),
		Timeout:      cfg.Exact.HTTPTimeout,
		Logger:       slog.Default(),
	}), nil
}

// division returns the division for this run: the --division flag, then
// EXACT_DIVISION, then the user's current division.
func (a *app) division(ctx context.Context) string {
	if division != "" {
		return division
	}
	if a.cfg.Exact.Division != "" {
		return a.cfg.Exact.Division
	}

	current, err := a.client.CurrentDivision(ctx)
	exitOnError(err, "failed to resolve current division")
	slog.Info("Using current division", "division", current)
	return current
}

// run dispatches items and records the outcome of each in the history.
func (a *app) run(ctx context.Context, c dispatch.Context, items []dispatch.Item) ([]dispatch.Result, error) {
	if c.Division == "" {
		c.Division = a.division(ctx)
	}
	c.ContinueOnFail = c.ContinueOnFail || continueOnFail

	slog.Info("Starting run", "run_id", a.runID, "operation", c.Operation, "service", c.Service, "resource", c.Resource, "items", len(items))

	d := dispatch.New(a.registry, a.client, slog.Default(), a.metrics)
	results, err := d.Run(ctx, c, items)

	a.record(ctx, c, results, err)
	return results, err
}

// record writes item outcomes to the history. Failures to record are logged
// and never fail the run.
func (a *app) record(ctx context.Context, c dispatch.Context, results []dispatch.Result, runErr error) {
	if a.history == nil {
		return
	}

	base := db.OperationRecord{
		RunID:     a.runID,
		Division:  c.Division,
		Service:   c.Service,
		Resource:  c.Resource,
		Operation: string(c.Operation),
	}

	for _, res := range results {
		rec := base
		rec.ItemIndex = res.Index
		if res.Err != nil {
			rec.Status = db.StatusError
			rec.ErrorKind = sql.NullString{String: apierror.Kind(res.Err), Valid: true}
			rec.ErrorMessage = sql.NullString{String: res.Err.Err.Error(), Valid: true}
		} else {
			rec.Status = db.StatusSuccess
			rec.RecordCount = len(res.Records)
		}
		if err := a.history.RecordOperation(ctx, rec); err != nil {
			slog.Warn("Failed to record operation", "index", res.Index, "error", err)
		}
	}

	var itemErr *apierror.ItemError
	if errors.As(runErr, &itemErr) {
		rec := base
		rec.ItemIndex = itemErr.Index
		rec.Status = db.StatusError
		rec.ErrorKind = sql.NullString{String: apierror.Kind(itemErr), Valid: true}
		rec.ErrorMessage = sql.NullString{String: itemErr.Err.Error(), Valid: true}
		if err := a.history.RecordOperation(ctx, rec); err != nil {
			slog.Warn("Failed to record operation", "index", itemErr.Index, "error", err)
		}
	}

	if err := a.history.SetMetadata(ctx, lastDivisionKey, c.Division); err != nil {
		slog.Warn("Failed to record division", "error", err)
	}
}

// close writes the metrics file and closes the database.
func (a *app) close() {
	if path := a.paths.GetMetricsPath(); path != "" {
		if err := a.paths.EnsureParentDir(path); err != nil {
			slog.Warn("Failed to prepare metrics file", "error", err)
		} else if err := a.metrics.WriteTextfile(path); err != nil {
			slog.Warn("Failed to write metrics file", "path", path, "error", err)
		} else {
			slog.Debug("Metrics written", "path", path)
		}
	}
	if a.conn != nil {
		a.conn.Close()
	}
}

// records flattens the records of all results in item order.
func records(results []dispatch.Result) []exact.Record {
	out := make([]exact.Record, 0, len(results))
	for _, res := range results {
		out = append(out, res.Records...)
	}
	return out
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	exitOnError(err, "failed to encode output")
	fmt.Println(string(data))
}

// finish prints the results and exits non-zero on a run error. The app is
// closed first because exitOnError skips deferred calls.
func (a *app) finish(results []dispatch.Result, err error) {
	printJSON(records(results))
	a.close()
	exitOnError(err, "run failed")
}
