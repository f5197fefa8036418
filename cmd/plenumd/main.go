// Command plenumd runs the PLENUM governance core: the phase transition
// engine, the automatic sweep scheduler, and the audit export tooling.
//
// Subcommands:
//
//	serve                 run the sweep daemon (default)
//	sweep                 run one sweep pass and exit
//	results <session-id>  print derived session results as JSON
//	export <session-id>   package and ship the session's audit bundle
//	verify <bundle.json>  verify an exported bundle offline
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/plenum-labs/plenum/pkg/auditchain"
	"github.com/plenum-labs/plenum/pkg/config"
	"github.com/plenum-labs/plenum/pkg/consensus"
	"github.com/plenum-labs/plenum/pkg/contracts"
	"github.com/plenum-labs/plenum/pkg/events"
	"github.com/plenum-labs/plenum/pkg/export"
	"github.com/plenum-labs/plenum/pkg/metadata"
	"github.com/plenum-labs/plenum/pkg/observability"
	"github.com/plenum-labs/plenum/pkg/phase"
	"github.com/plenum-labs/plenum/pkg/scheduler"
	"github.com/plenum-labs/plenum/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; exposed for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 1 {
		cmd = args[1]
	}

	switch cmd {
	case "serve":
		return runServe(stderr)
	case "sweep":
		return runSweep(stdout, stderr)
	case "results":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: plenumd results <session-id>")
			return 2
		}
		return runResults(args[2], stdout, stderr)
	case "export":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: plenumd export <session-id>")
			return 2
		}
		return runExport(args[2], stdout, stderr)
	case "verify":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: plenumd verify <bundle.json>")
			return 2
		}
		return runVerify(args[2], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
}

// governanceStore is the persistence surface the daemon needs; both the
// SQLite and Postgres stores satisfy it.
type governanceStore interface {
	phase.ProposalStore
	store.Records
	consensus.VoteSource
	consensus.SessionSource
}

type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	profile *config.Profile
	store   governanceStore
	db      *sql.DB
}

func (r *runtime) close() {
	if r.db != nil {
		_ = r.db.Close()
	}
}

func setup(stderr io.Writer) (*runtime, error) {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	profile := config.DefaultProfile()
	if cfg.ProfilePath != "" {
		loaded, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		profile = loaded
	}

	var (
		st  governanceStore
		db  *sql.DB
		err error
	)
	switch cfg.DatabaseDriver {
	case "postgres":
		st, db, err = store.OpenPostgres(cfg.DatabaseURL)
	case "sqlite":
		st, db, err = store.OpenSQLite(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open store (%s): %w", cfg.DatabaseDriver, err)
	}

	return &runtime{cfg: cfg, logger: logger, profile: profile, store: st, db: db}, nil
}

func (r *runtime) buildMachine(ctx context.Context) (*phase.Machine, func(), error) {
	rules, err := phase.DefaultRuleTable(r.profile)
	if err != nil {
		return nil, nil, fmt.Errorf("build rule table: %w", err)
	}

	sinks := []events.Sink{events.NewSlogSink(r.logger)}
	cleanup := func() {}
	if r.cfg.RedisURL != "" {
		redisSink, err := events.NewRedisSinkFromURL(r.cfg.RedisURL, r.cfg.EventChannel)
		if err != nil {
			return nil, nil, fmt.Errorf("redis sink: %w", err)
		}
		sinks = append(sinks, redisSink)
		cleanup = func() { _ = redisSink.Close() }
	}

	provider := store.NewContextProvider(r.store, r.profile.EligibleVoters, nil)
	machine := phase.NewMachine(rules, r.profile, provider, r.store,
		events.NewFanout(sinks...), nil, r.logger)

	validator := metadata.NewValidator()
	if err := validator.Register(metadata.KindProposal, metadata.DefaultProposalSchema); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("metadata schema: %w", err)
	}
	machine.SetMetadataValidator(validator)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "plenum-core",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   r.cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        r.cfg.OTLPEndpoint != "",
		Insecure:       r.cfg.OTLPInsecure,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("observability: %w", err)
	}
	machine.SetObservability(obs)

	shutdown := func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shCtx)
		cleanup()
	}
	return machine, shutdown, nil
}

func runServe(stderr io.Writer) int {
	rt, err := setup(stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "startup failed:", err)
		return 1
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	machine, shutdown, err := rt.buildMachine(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "startup failed:", err)
		return 1
	}
	defer shutdown()

	rt.logger.Info("plenumd starting",
		"driver", rt.cfg.DatabaseDriver,
		"sweep_interval", rt.cfg.SweepInterval,
		"redis_events", rt.cfg.RedisURL != "",
	)

	sched := scheduler.New(machine, rt.cfg.SweepInterval, rt.logger)
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		rt.logger.Error("scheduler stopped", "error", err)
		return 1
	}

	rt.logger.Info("plenumd shut down")
	return 0
}

func runSweep(stdout, stderr io.Writer) int {
	rt, err := setup(stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "startup failed:", err)
		return 1
	}
	defer rt.close()

	ctx := context.Background()
	machine, shutdown, err := rt.buildMachine(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "startup failed:", err)
		return 1
	}
	defer shutdown()

	report, err := machine.ProcessAutomaticTransitions(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "sweep failed:", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "scanned %d, transitioned %d, errors %d\n",
		report.Scanned, report.Transitioned, report.Errors)
	if report.Errors > 0 {
		return 1
	}
	return 0
}

func runResults(sessionID string, stdout, stderr io.Writer) int {
	rt, err := setup(stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "startup failed:", err)
		return 1
	}
	defer rt.close()

	voting := rt.profile.Phase(contracts.PhaseVoting)
	svc := consensus.NewService(rt.store, rt.store, consensus.Thresholds{
		MinParticipants:    voting.MinParticipants,
		ConsensusThreshold: rt.profile.ConsensusThreshold(),
	}, rt.profile.EligibleVoters)

	results, err := svc.GetSessionResults(context.Background(), sessionID)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "results failed:", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		_, _ = fmt.Fprintln(stderr, "encode failed:", err)
		return 1
	}
	return 0
}

func runExport(sessionID string, stdout, stderr io.Writer) int {
	rt, err := setup(stderr)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "startup failed:", err)
		return 1
	}
	defer rt.close()

	ctx := context.Background()
	objectStore, err := export.NewStoreFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "export storage:", err)
		return 1
	}

	exporter := export.NewExporter(auditchain.NewBuilder(rt.store, rt.store),
		objectStore, nil, rt.logger)
	key, bundle, err := exporter.Export(ctx, sessionID)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "export failed:", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "exported %s (%d entries, head %s) to %s\n",
		bundle.ID, len(bundle.Entries), bundle.ChainHead, key)
	return 0
}

func runVerify(path string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "read bundle:", err)
		return 1
	}

	var bundle export.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		_, _ = fmt.Fprintln(stderr, "parse bundle:", err)
		return 1
	}
	if err := bundle.Verify(); err != nil {
		_, _ = fmt.Fprintln(stderr, "verification FAILED:", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "bundle %s verified: session %s, %d entries, head %s\n",
		bundle.ID, bundle.SessionID, len(bundle.Entries), bundle.ChainHead)
	return 0
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToUpper(raw) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
