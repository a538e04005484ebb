package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/cache"
	"github.com/ValentinKolb/dSync/lib/entity"
	"github.com/ValentinKolb/dSync/lib/entity/record"
	"github.com/ValentinKolb/dSync/lib/entitycache"
	"github.com/ValentinKolb/dSync/lib/heartbeat"
	"github.com/ValentinKolb/dSync/lib/lockmgr"
	"github.com/ValentinKolb/dSync/lib/logging"
	"github.com/ValentinKolb/dSync/lib/orchestrator"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/ValentinKolb/dSync/lib/shared/lstore"
	"github.com/ValentinKolb/dSync/lib/shared/rstore"
	"github.com/ValentinKolb/dSync/lib/syncmgr"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("serve")

// nodeConfig is the fully parsed configuration of one dSync node
type nodeConfig struct {
	NodeID            string
	Namespace         string
	Endpoint          string
	LogLevel          string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	LockTimeout       time.Duration
	LockPollInterval  time.Duration
	LockWaitTimeout   time.Duration
	CacheMaxEntries   int
	CacheTTL          time.Duration
	Orchestrator      orchestrator.Options
}

var (
	serveCmdConfig = &nodeConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dSync node",
		Long:    `Start a dSync node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DSYNC_<flag> (e.g. DSYNC_HEARTBEAT_INTERVAL=10)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add shared store connection flags
	cmdUtil.SetupStoreFlags(ServeCmd)

	// add flags
	key := "node-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("NodeID is the unique identifier of this process in the fleet (empty = random id). It is used as the lock owner id and the heartbeat peer id"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the HTTP API (records, /health, /metrics) will listen"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "heartbeat-interval"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Interval in seconds between own heartbeat broadcasts"))

	key = "heartbeat-timeout"
	ServeCmd.PersistentFlags().Int(key, 15, cmdUtil.WrapString("Seconds of silence after which a peer is classified dead and its locks are cleaned up"))

	key = "lock-timeout"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("TTL in seconds of every lock record, bounds how long a crashed owner can block a key"))

	key = "lock-poll-interval"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Milliseconds between acquisition retries while waiting for a contended lock"))

	key = "lock-wait-timeout"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Seconds a locked write waits for a contended lock before giving up"))

	key = "fail-open-locks"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Proceed with a write when the lock wait times out instead of failing it (trades strict exclusion for availability)"))

	key = "caching"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Serve reads from the entity cache (false = every read hits the backing store)"))

	key = "cache-max-entries"
	ServeCmd.PersistentFlags().Int(key, 100_000, cmdUtil.WrapString("Maximum number of entities kept in the cache (0 = unbounded)"))

	key = "cache-ttl"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Seconds after which a cached entity expires regardless of invalidations (0 = no expiry)"))

	key = "write-behind"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Defer persistence: writes are collected dirty in the cache and flushed in batches"))

	key = "write-behind-delay"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("Milliseconds between write-behind flush cycles"))

	key = "sync-writes"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Force immediate persistence even with write-behind enabled"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the node configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.NodeID = viper.GetString("node-id")
	if serveCmdConfig.NodeID == "" {
		serveCmdConfig.NodeID = lockmgr.NewOwnerID()
	}
	serveCmdConfig.Namespace = cmdUtil.GetNamespace()
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.HeartbeatInterval = time.Duration(viper.GetInt("heartbeat-interval")) * time.Second
	serveCmdConfig.HeartbeatTimeout = time.Duration(viper.GetInt("heartbeat-timeout")) * time.Second
	serveCmdConfig.LockTimeout = time.Duration(viper.GetInt("lock-timeout")) * time.Second
	serveCmdConfig.LockPollInterval = time.Duration(viper.GetInt("lock-poll-interval")) * time.Millisecond
	serveCmdConfig.LockWaitTimeout = time.Duration(viper.GetInt("lock-wait-timeout")) * time.Second
	serveCmdConfig.CacheMaxEntries = viper.GetInt("cache-max-entries")
	serveCmdConfig.CacheTTL = time.Duration(viper.GetInt("cache-ttl")) * time.Second
	serveCmdConfig.Orchestrator = orchestrator.Options{
		CachingEnabled:   viper.GetBool("caching"),
		WriteBehind:      viper.GetBool("write-behind"),
		WriteBehindDelay: time.Duration(viper.GetInt("write-behind-delay")) * time.Millisecond,
		SyncWrites:       viper.GetBool("sync-writes"),
		FailOpenLocks:    viper.GetBool("fail-open-locks"),
	}

	if serveCmdConfig.HeartbeatTimeout <= serveCmdConfig.HeartbeatInterval {
		return fmt.Errorf("heartbeat-timeout (%v) must exceed heartbeat-interval (%v)", serveCmdConfig.HeartbeatTimeout, serveCmdConfig.HeartbeatInterval)
	}
	return nil
}

// connectSharedInfra connects to the configured Redis-compatible store. If
// it is unreachable the node degrades to a single-process mode on local
// in-memory infrastructure: all operations keep working, locks and
// invalidations just coordinate nothing beyond this process.
func connectSharedInfra() (shared.ISharedStore, shared.IMessageBroker) {
	opts := cmdUtil.GetStoreOptions()

	kv, err := rstore.NewRedisStore(opts)
	if err == nil {
		var bus shared.IMessageBroker
		if bus, err = rstore.NewRedisBroker(opts); err == nil {
			Logger.Infof("connected to shared store at %s", opts.Addr)
			return kv, bus
		}
		_ = kv.Close()
	}

	var sharedErr *shared.Error
	if errors.As(err, &sharedErr) && sharedErr.Code == shared.RetCConnection {
		Logger.Warningf("shared store at %s unreachable, degrading to single-process mode: %v", opts.Addr, err)
	} else {
		Logger.Warningf("shared store setup failed, degrading to single-process mode: %v", err)
	}
	return lstore.NewLocalStore(), lstore.NewLocalBroker()
}

// run starts the dSync node
func run(_ *cobra.Command, _ []string) error {
	logging.InitLoggers(serveCmdConfig.LogLevel)
	Logger.Infof("starting dSync node %s (namespace=%s)", serveCmdConfig.NodeID, serveCmdConfig.Namespace)

	kv, bus := connectSharedInfra()
	defer kv.Close()
	defer bus.Close()

	// assemble the node
	locks := lockmgr.NewLockManager(kv, lockmgr.Options{
		Namespace:    serveCmdConfig.Namespace,
		OwnerID:      serveCmdConfig.NodeID,
		LockTimeout:  serveCmdConfig.LockTimeout,
		PollInterval: serveCmdConfig.LockPollInterval,
	})
	monitor := heartbeat.NewMonitor(heartbeat.Options{
		SelfID:   serveCmdConfig.NodeID,
		Interval: serveCmdConfig.HeartbeatInterval,
		Timeout:  serveCmdConfig.HeartbeatTimeout,
	})
	coord := syncmgr.NewCoordinator(syncmgr.Options{
		NodeID:  serveCmdConfig.NodeID,
		Channel: serveCmdConfig.Namespace + ":sync",
	}, bus, locks, monitor)

	var entityCache cache.ICache[entity.IEntity]
	if serveCmdConfig.Orchestrator.CachingEnabled {
		entityCache = cache.New[entity.IEntity](cache.Options{
			Name:       "entities",
			MaxEntries: serveCmdConfig.CacheMaxEntries,
			TTL:        serveCmdConfig.CacheTTL,
		})
	} else {
		entityCache = cache.NewNoop[entity.IEntity]()
	}

	backing := record.NewSharedStore(kv, serveCmdConfig.Namespace)
	orch := orchestrator.NewOrchestrator(
		serveCmdConfig.Orchestrator,
		backing,
		entitycache.New(entityCache),
		coord,
	)
	monitor.SetLoadFunc(orch.LoadRate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync coordinator: %v", err)
	}
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %v", err)
	}

	// HTTP API
	srv := &http.Server{
		Addr:    serveCmdConfig.Endpoint,
		Handler: newAPIHandler(serveCmdConfig, orch, coord, monitor),
	}
	httpErr := make(chan error, 1)
	go func() {
		Logger.Infof("HTTP API listening on %s", serveCmdConfig.Endpoint)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		Logger.Infof("received %v, shutting down", s)
	case err := <-httpErr:
		Logger.Errorf("HTTP server failed: %v", err)
	}

	// graceful shutdown: stop accepting requests, drain pending writes,
	// tell the fleet, release all held locks
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := orch.Stop(); err != nil {
		Logger.Errorf("orchestrator shutdown failed: %v", err)
	}
	if err := coord.AnnounceShutdown(); err != nil {
		Logger.Warningf("shutdown announcement failed: %v", err)
	}
	if released, err := locks.ReleaseAll(); err != nil {
		Logger.Errorf("lock release failed: %v", err)
	} else if released > 0 {
		Logger.Infof("released %d lock(s)", released)
	}
	_ = coord.Stop()

	Logger.Infof("node %s stopped", serveCmdConfig.NodeID)
	return nil
}
