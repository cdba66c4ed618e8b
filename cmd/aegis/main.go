// Command aegis is the control surface for Aegis's disaster-recovery
// data plane: it wires the backup engine, replicator, health monitor,
// failover orchestrator, recovery planner/executor, and compliance
// evaluator against a loaded configuration, then either serves the
// HTTP control surface and background loops (`aegis serve`) or runs a
// single operator command against a live metadata store.
//
// Built with a standard cobra layout: a root command carrying
// persistent flags, one var block per subcommand group, RunE closures
// doing the actual work.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aegis-dr/aegis/api"
	"github.com/aegis-dr/aegis/internal/backup"
	"github.com/aegis-dr/aegis/internal/compliance"
	"github.com/aegis-dr/aegis/internal/config"
	"github.com/aegis-dr/aegis/internal/drstate"
	"github.com/aegis-dr/aegis/internal/errs"
	"github.com/aegis-dr/aegis/internal/events"
	"github.com/aegis-dr/aegis/internal/failover"
	"github.com/aegis-dr/aegis/internal/health"
	applog "github.com/aegis-dr/aegis/internal/log"
	"github.com/aegis-dr/aegis/internal/notify"
	"github.com/aegis-dr/aegis/internal/recovery"
	"github.com/aegis-dr/aegis/internal/replication"
	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aegis",
	Short:   "Aegis disaster-recovery control plane",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to disasterRecovery config JSON file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(failoverCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(replicationCmd)
	rootCmd.AddCommand(resolveConflictCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(complianceCmd)
}

// app bundles every wired component a command might need. Not every
// command uses every field.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	pool     *pgxpool.Pool
	bus      *events.Bus
	notifier *notify.Notifier
	bridge   *notify.Bridge
	state    *drstate.Store

	regionStores map[string]replication.RegionStores

	backups *backup.Manager
	repl    *replication.Replicator
	mon     *health.Monitor
	orch    *failover.Orchestrator
	rec     *recovery.Manager
	comp    *compliance.Engine
}

func initLogging(cfg *config.Config) {
	applog.Init(applog.Config{
		Level:  applog.Level(cfg.LogLevel),
		JSON:   cfg.LogJSON,
		Output: os.Stderr,
	})
}

// dialRegionStores connects the three store drivers for one region's
// Databases map. Values are URIs; the time-series driver additionally
// expects ?token=&org=&bucket= query parameters since InfluxDB needs
// more than a bare address.
func dialRegionStores(ctx context.Context, region models.Region) (replication.RegionStores, error) {
	var rs replication.RegionStores

	docURI, ok := region.Databases[string(models.StoreDocument)]
	if !ok {
		return rs, fmt.Errorf("region %s: missing %s connection", region.Name, models.StoreDocument)
	}
	doc, err := document.Dial(ctx, docURI, fmt.Sprintf("aegis_%s", region.Name))
	if err != nil {
		return rs, fmt.Errorf("region %s: dial document store: %w", region.Name, err)
	}
	rs.Document = doc

	tsURI, ok := region.Databases[string(models.StoreTimeSeries)]
	if !ok {
		return rs, fmt.Errorf("region %s: missing %s connection", region.Name, models.StoreTimeSeries)
	}
	tsURL, token, org, bucket, err := parseInfluxURI(tsURI)
	if err != nil {
		return rs, fmt.Errorf("region %s: %w", region.Name, err)
	}
	rs.TimeSeries = timeseries.Dial(tsURL, token, org, bucket)

	kvAddr, ok := region.Databases[string(models.StoreKV)]
	if !ok {
		return rs, fmt.Errorf("region %s: missing %s connection", region.Name, models.StoreKV)
	}
	kvStore, err := kv.Dial(kvAddr)
	if err != nil {
		return rs, fmt.Errorf("region %s: dial kv store: %w", region.Name, err)
	}
	rs.KV = kvStore

	return rs, nil
}

// parseInfluxURI splits an influxdb connection URI of the form
// http://host:8086?token=T&org=O&bucket=B into its Dial arguments.
func parseInfluxURI(raw string) (addr, token, org, bucket string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", "", fmt.Errorf("parse influxdb uri: %w", err)
	}
	q := u.Query()
	token, org, bucket = q.Get("token"), q.Get("org"), q.Get("bucket")
	u.RawQuery = ""
	return u.String(), token, org, bucket, nil
}

// buildApp loads configuration and wires every component. Components
// that need live store connections (replication, health, recovery's
// restore path) are only dialed when withStores is true, since status,
// replication status and resolve-conflict commands don't need them.
func buildApp(ctx context.Context, cfgPath string, withStores bool) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, errs.NewConfig("disasterRecovery", err)
	}
	initLogging(cfg)
	log := applog.WithComponent(applog.CompCLI)

	pool, err := pgxpool.New(ctx, cfg.MetadataDSN)
	if err != nil {
		return nil, fmt.Errorf("connect metadata store: %w", err)
	}

	bus := events.New(nil)
	notifier := notify.New(cfg.DisasterRecovery.Notifications, applog.WithComponent(applog.CompNotify))
	bridge := notify.NewBridge(bus, notifier, applog.WithComponent(applog.CompNotify))
	state := drstate.New(cfg.PrimaryRegion())

	a := &app{
		cfg: cfg, log: log, pool: pool, bus: bus, notifier: notifier, bridge: bridge, state: state,
		regionStores: make(map[string]replication.RegionStores, len(cfg.Regions)),
	}

	if !withStores {
		return a, nil
	}

	storage, err := backup.NewStorageBackend(ctx,
		cfg.DisasterRecovery.Backup.Storage.Type,
		cfg.DisasterRecovery.Backup.Storage.Bucket,
		cfg.DisasterRecovery.Backup.Storage.Region,
		cfg.DisasterRecovery.Backup.Storage.Prefix,
		cfg.DisasterRecovery.Backup.Storage.Config["endpoint"],
		cfg.DisasterRecovery.Backup.Storage.Config["path"],
	)
	if err != nil {
		return nil, fmt.Errorf("init storage backend: %w", err)
	}
	records := backup.NewPgStore(pool)

	for _, region := range cfg.Regions {
		rs, err := dialRegionStores(ctx, region)
		if err != nil {
			return nil, err
		}
		a.regionStores[region.Name] = rs
	}

	primary := a.regionStores[cfg.PrimaryRegion()]

	backupsMgr, err := backup.NewManager(backup.Config{
		Storage:          storage,
		Records:          records,
		DocStore:         primary.Document,
		TimeSeries:       primary.TimeSeries,
		KV:               primary.KV,
		EncryptionKey:    cfg.DisasterRecovery.Backup.Encryption.KeyID,
		RetentionDaily:   cfg.DisasterRecovery.Backup.Retention.Daily,
		RetentionWeekly:  cfg.DisasterRecovery.Backup.Retention.Weekly,
		RetentionMonthly: cfg.DisasterRecovery.Backup.Retention.Monthly,
	}, applog.WithComponent(applog.CompBackup))
	if err != nil {
		return nil, fmt.Errorf("init backup manager: %w", err)
	}
	a.backups = backupsMgr

	secondaries := make(map[string]replication.RegionStores, len(cfg.SecondaryRegions()))
	for _, name := range cfg.SecondaryRegions() {
		secondaries[name] = a.regionStores[name]
	}
	conflicts := replication.NewPgStore(pool)
	a.repl = replication.New(primary, secondaries, cfg.DisasterRecovery.Replication.SyncInterval,
		cfg.DisasterRecovery.Replication.ConflictResolution, conflicts, bus, applog.WithComponent(applog.CompReplication))

	healthLog := applog.WithComponent(applog.CompHealth)
	probes := make([]health.Probe, 0, len(cfg.Regions)*3)
	for _, region := range cfg.Regions {
		rs := a.regionStores[region.Name]
		probes = append(probes,
			health.NewPingProbe(region.Name+"-document", region.Name, health.ProbeDatabase, 5*time.Second, rs.Document.Ping),
			health.NewPingProbe(region.Name+"-timeseries", region.Name, health.ProbeDatabase, 5*time.Second, rs.TimeSeries.Ping),
			health.NewPingProbe(region.Name+"-kv", region.Name, health.ProbeCache, 5*time.Second, rs.KV.Ping),
		)
	}
	a.mon = health.NewMonitor(probes, cfg.DisasterRecovery.Recovery.HealthCheckInterval, bus, healthLog)

	failoverRecords := failover.NewPgStore(pool)
	regionNames := make([]string, 0, len(cfg.Regions))
	for _, r := range cfg.Regions {
		regionNames = append(regionNames, r.Name)
	}
	failoverLog := applog.WithComponent(applog.CompFailover)
	a.orch = failover.New(failover.Config{
		Regions:         regionNames,
		RTO:             time.Duration(cfg.DisasterRecovery.Recovery.RTOMinutes) * time.Minute,
		RPO:             time.Duration(cfg.DisasterRecovery.Recovery.RPOMinutes) * time.Minute,
		AutoFailover:    cfg.DisasterRecovery.Recovery.AutoFailover,
		UnhealthyRounds: 2,
		VerifyTimeout:   30 * time.Second,
	}, failover.NewLoggingRouter(failoverLog), failover.NewLoggingPromoter(failoverLog), a.mon, state, failoverRecords, bus, notifier, failoverLog)

	a.rec = recovery.NewManager(backupsMgr, records, primary.Document, primary.TimeSeries, primary.KV, applog.WithComponent(applog.CompRecovery))
	a.comp = compliance.NewEngine(cfg, applog.WithComponent(applog.CompCompliance))

	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control surface and background loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, configPath(cmd), true)
		if err != nil {
			return err
		}
		defer a.Close()

		go func() {
			if err := a.bridge.Serve(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("notification bridge stopped")
			}
		}()
		go func() {
			if err := a.repl.Serve(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("replicator stopped")
			}
		}()
		go func() {
			if err := a.mon.Serve(ctx); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("health monitor stopped")
			}
		}()
		go func() {
			if err := a.orch.Serve(ctx, a.cfg.DisasterRecovery.Recovery.HealthCheckInterval); err != nil && ctx.Err() == nil {
				a.log.Error().Err(err).Msg("failover orchestrator stopped")
			}
		}()

		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.Use(gin.Recovery())
		api.NewHandler(a.state).RegisterRoutes(r)

		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: r}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		a.log.Info().Str("addr", a.cfg.MetricsAddr).Msg("aegis serving")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current disaster-recovery status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, configPath(cmd), false)
		if err != nil {
			return err
		}
		defer a.Close()

		snap := a.state.Snapshot()
		fmt.Printf("Active region: %s (primary: %s)\n", snap.ActiveRegion, snap.Primary)
		fmt.Printf("Healthy: %v (last checked %s)\n", snap.Healthy, snap.LastHealthCheck.Format(time.RFC3339))
		for region, rs := range snap.Replication {
			fmt.Printf("  replication[%s]: state=%s lagMs=%d\n", region, rs.State, rs.LagMs)
		}
		fmt.Printf("Recent failovers: %d\n", len(snap.RecentFailovers))
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Trigger a backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind, _ := cmd.Flags().GetString("type")

		a, err := buildApp(ctx, configPath(cmd), true)
		if err != nil {
			return err
		}
		defer a.Close()

		var record *models.BackupRecord
		switch kind {
		case "full":
			record, err = a.backups.FullBackup(ctx)
		case "incremental":
			record, err = a.backups.IncrementalBackup(ctx)
		default:
			return fmt.Errorf("unknown backup type %q (want full|incremental)", kind)
		}
		if err != nil {
			return err
		}
		fmt.Printf("backup %s (%s) success=%v size=%dB duration=%s\n",
			record.ID, record.Kind, record.Success, record.SizeBytes, record.Duration)
		return nil
	},
}

func init() {
	backupCmd.Flags().String("type", "full", "backup type: full|incremental")
}

var failoverCmd = &cobra.Command{
	Use:   "failover <region>",
	Short: "Fail over to the given region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			reason = "manual"
		}

		a, err := buildApp(ctx, configPath(cmd), true)
		if err != nil {
			return err
		}
		defer a.Close()

		ev, err := a.orch.Failover(ctx, args[0], reason)
		if err != nil {
			if errs.IsInvariant(err) {
				fmt.Printf("failover to %s rejected: %v\n", args[0], err)
			} else {
				fmt.Printf("failover to %s failed: %v (rolled back: %v)\n", args[0], err, ev != nil && ev.RolledBack)
			}
			return err
		}
		fmt.Printf("failover committed: %s -> %s in %s\n", ev.FromRegion, ev.ToRegion, ev.Duration)
		return nil
	},
}

func init() {
	failoverCmd.Flags().String("reason", "", "reason recorded with the failover event")
}

var recoverCmd = &cobra.Command{
	Use:   "recover {full|partial|point-in-time}",
	Short: "Generate and execute a recovery plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		targetRegion, _ := cmd.Flags().GetString("target-region")
		backupID, _ := cmd.Flags().GetString("backup-id")
		pointInTime, _ := cmd.Flags().GetString("point-in-time")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		assumeYes, _ := cmd.Flags().GetBool("yes")

		var planType models.RecoveryPlanType
		switch args[0] {
		case "full":
			planType = models.RecoveryFull
		case "partial":
			planType = models.RecoveryPartial
		case "point-in-time":
			planType = models.RecoveryPointInTime
		default:
			return fmt.Errorf("unknown recovery type %q (want full|partial|point-in-time)", args[0])
		}

		opts := recovery.Options{TargetRegion: targetRegion, BackupID: backupID}
		if planType == models.RecoveryPointInTime {
			if pointInTime == "" {
				return fmt.Errorf("point-in-time recovery requires --point-in-time")
			}
			t, err := time.Parse(time.RFC3339, pointInTime)
			if err != nil {
				return fmt.Errorf("parse --point-in-time: %w", err)
			}
			opts.PointInTime = &t
		}

		a, err := buildApp(ctx, configPath(cmd), true)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.rec.GeneratePlan(ctx, planType, opts)
		if err != nil {
			return err
		}

		fmt.Printf("plan %s (%s): %d steps, estimated %s\n", plan.ID, plan.Type, len(plan.Steps), plan.EstimatedTotal)
		for _, s := range plan.Steps {
			fmt.Printf("  - %s [%s] deps=%v\n", s.Name, s.Category, s.Dependencies)
		}

		if dryRun {
			return a.rec.ExecutePlan(ctx, plan.ID, true)
		}
		if !assumeYes && !confirm() {
			fmt.Println("aborted")
			return nil
		}
		return a.rec.ExecutePlan(ctx, plan.ID, false)
	},
}

func init() {
	recoverCmd.Flags().String("target-region", "", "region to recover into")
	recoverCmd.Flags().String("backup-id", "", "backup record ID (full|partial)")
	recoverCmd.Flags().String("point-in-time", "", "RFC3339 timestamp (point-in-time)")
	recoverCmd.Flags().Bool("dry-run", false, "walk the plan without touching store drivers")
	recoverCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
}

func confirm() bool {
	fmt.Print("proceed with recovery execution? [yes/N]: ")
	var answer string
	fmt.Scanln(&answer)
	return strings.EqualFold(answer, "yes")
}

var replicationCmd = &cobra.Command{
	Use:   "replication",
	Short: "Manage the cross-region replicator",
}

var replicationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print per-region replication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, configPath(cmd), false)
		if err != nil {
			return err
		}
		defer a.Close()
		snap := a.state.Snapshot()
		for region, rs := range snap.Replication {
			fmt.Printf("%s: state=%s lagMs=%d lastSync=%s\n", region, rs.State, rs.LagMs, rs.LastSync.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	replicationCmd.AddCommand(replicationStatusCmd)
}

var resolveConflictCmd = &cobra.Command{
	Use:   "resolve-conflict <conflict-id> <source|target>",
	Short: "Resolve a pending replication conflict",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		conflictID, resolvedWith := args[0], args[1]
		if resolvedWith != "source" && resolvedWith != "target" {
			return fmt.Errorf("resolution must be \"source\" or \"target\", got %q", resolvedWith)
		}

		a, err := buildApp(ctx, configPath(cmd), false)
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts := replication.NewPgStore(a.pool)
		if err := conflicts.ResolveConflict(ctx, conflictID, resolvedWith); err != nil {
			return err
		}
		fmt.Printf("conflict %s resolved with %s\n", conflictID, resolvedWith)
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Exercise a DR subsystem without touching production data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind, _ := cmd.Flags().GetString("type")

		a, err := buildApp(ctx, configPath(cmd), true)
		if err != nil {
			return err
		}
		defer a.Close()

		switch kind {
		case "backup":
			record, err := a.backups.FullBackup(ctx)
			if err != nil {
				return err
			}
			return a.backups.ValidateBackup(ctx, record.ID)
		case "replication":
			result := a.mon.RunOnce(ctx)
			fmt.Printf("health snapshot: %+v\n", result)
			return nil
		case "failover":
			secondaries := a.cfg.SecondaryRegions()
			if len(secondaries) == 0 {
				return fmt.Errorf("no secondary region configured to test failover against")
			}
			ev, err := a.orch.Failover(ctx, secondaries[0], "test")
			if err != nil {
				return err
			}
			fmt.Printf("test failover committed: %s -> %s\n", ev.FromRegion, ev.ToRegion)
			return nil
		case "full":
			report := a.comp.Evaluate(ctx)
			fmt.Printf("compliance: %d/%d requirements passing\n", report.PassCount, report.TotalChecked)
			return nil
		default:
			return fmt.Errorf("unknown test type %q (want backup|replication|failover|full)", kind)
		}
	},
}

func init() {
	testCmd.Flags().String("type", "full", "what to test: backup|replication|failover|full")
}

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Evaluate DR policies against configuration and render a report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, configPath(cmd), true)
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.comp.Evaluate(ctx)
		fmt.Print(compliance.RenderMarkdown(report))
		return nil
	},
}
