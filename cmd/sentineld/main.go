package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sentineld/sentineld/internal/aggregate"
	"github.com/sentineld/sentineld/internal/cache"
	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/executor"
	"github.com/sentineld/sentineld/internal/extscan"
	"github.com/sentineld/sentineld/internal/instance"
	"github.com/sentineld/sentineld/internal/ml"
	"github.com/sentineld/sentineld/internal/natsbridge"
	"github.com/sentineld/sentineld/internal/notify"
	"github.com/sentineld/sentineld/internal/pipeline"
	"github.com/sentineld/sentineld/internal/prevalence"
	"github.com/sentineld/sentineld/internal/quarantine"
	"github.com/sentineld/sentineld/internal/reputation"
	"github.com/sentineld/sentineld/internal/scanjob"
	"github.com/sentineld/sentineld/internal/scriptscan"
	"github.com/sentineld/sentineld/internal/watchdog"

	"github.com/sentineld/sentineld/internal/control"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults to built-in settings if omitted)")
	dataDir := flag.String("data", `C:\ProgramData\sentineld`, "Daemon data directory (PID file, master key)")
	port := flag.Int("port", 0, "Control port override (0 uses the config value)")

	status := flag.Bool("status", false, "Show status of the running daemon")
	stop := flag.Bool("stop", false, "Stop the running daemon gracefully")
	forceStop := flag.Bool("force-stop", false, "Force kill the running daemon")
	flag.Parse()

	basePath, err := getBasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to determine base path: %v\n", err)
		os.Exit(1)
	}

	pidFilePath := filepath.Join(*dataDir, "sentineld.pid")

	if *status {
		showInstanceStatus(pidFilePath)
		return
	}
	if *stop || *forceStop {
		stopInstance(pidFilePath, *forceStop)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.ControlPort = *port
	}

	instanceMgr := instance.NewManager(pidFilePath, *configPath, cfg.ControlPort)

	existingInfo, err := instanceMgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check for existing instance: %v\n", err)
		os.Exit(1)
	}
	if existingInfo != nil && existingInfo.IsRunning {
		resolver := instance.NewConflictResolver(instanceMgr, instance.IsInteractive())
		if err := resolver.Resolve(existingInfo); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to resolve instance conflict: %v\n", err)
			os.Exit(1)
		}
		cfg.ControlPort = instanceMgr.GetPort()
	}

	if err := instanceMgr.AcquireLock(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acquire instance lock: %v\n", err)
		os.Exit(1)
	}
	defer instanceMgr.ReleaseLock()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	masterKey, err := loadOrCreateMasterKey(filepath.Join(*dataDir, "master.key"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load master key: %v\n", err)
		os.Exit(1)
	}

	prevalenceStore := prevalence.NewStore(cfg.PrevalenceDBPath)
	if err := prevalenceStore.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load prevalence store: %v\n", err)
	}

	signatureEngine := engine.NewSignatureEngine(cfg.SignatureDBPath)
	if err := signatureEngine.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load signature database: %v\n", err)
	}
	heuristicEngine := engine.NewHeuristicEngine()
	mlEngine := engine.NewMLEngine(ml.NewStubClassifier())
	reputationEngine := engine.NewReputationEngine(prevalenceStore)
	scriptEngine := engine.NewScriptEngine(scriptscan.NewHeuristicFacility())

	primaryEngines := []engine.Engine{signatureEngine, heuristicEngine, mlEngine, reputationEngine, scriptEngine}
	secondOpinionEngines := buildSecondOpinionEngines(cfg)

	scanCache := cache.New(cfg.CacheTTL(), cfg.ScanCacheMaxEntries)
	aggregator := aggregate.New(cfg, scanCache, primaryEngines, secondOpinionEngines)

	quarantineStore, err := quarantine.New(
		filepath.Join(cfg.QuarantinePath, "files"),
		filepath.Join(cfg.QuarantinePath, "journal.db"),
		quarantine.StaticMasterKey{Key: masterKey},
		quarantine.RetryPolicy{
			MaxRetries:   cfg.AtomicMoveMaxRetries,
			InitialDelay: time.Duration(cfg.AtomicMoveInitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.AtomicMoveMaxDelayMs) * time.Millisecond,
		},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open quarantine store: %v\n", err)
		os.Exit(1)
	}
	defer quarantineStore.Close()

	if orphans, err := quarantineStore.RecoverOrphans(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: orphan recovery failed: %v\n", err)
	} else if len(orphans) > 0 {
		fmt.Printf("Recovered %d orphaned quarantine blob(s)\n", len(orphans))
	}

	broadcaster := egress.NewBroadcaster()
	exec := executor.New(cfg, *configPath, quarantineStore, broadcaster)

	jobs := scanjob.NewManager(cfg, aggregator, exec, broadcaster, prevalenceStore)

	quickGateEngines := []engine.Engine{signatureEngine, heuristicEngine, scriptEngine}
	realtime := pipeline.New(cfg, cfg.RealTimeRoots, aggregator, quickGateEngines, quarantineStore, exec, broadcaster, prevalenceStore, aggregator)

	wd := watchdog.New(cfg, realtime, realtime, aggregator)

	ctrl := control.New(cfg, jobs, realtime, quarantineStore, exec)
	broadcaster.Add(ctrl.Hub())

	var bridge *natsbridge.Bridge
	var embeddedNATS *natsbridge.EmbeddedServer
	if cfg.NATSEnabled {
		embeddedNATS = natsbridge.NewEmbeddedServer(cfg.NATSPort)
		if err := embeddedNATS.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start embedded NATS broker: %v\n", err)
		} else {
			bridge, err = natsbridge.Connect(embeddedNATS.URL())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to connect NATS bridge: %v\n", err)
			} else {
				broadcaster.Add(bridge)
			}
		}
	}

	notifier := notify.New(fmt.Sprintf("http://127.0.0.1:%d", cfg.ControlPort))
	broadcaster.Add(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go wd.Run(ctx)

	if len(cfg.RealTimeRoots) > 0 {
		if err := realtime.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to start real-time protection: %v\n", err)
		} else {
			fmt.Println("Real-time protection active")
		}
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- ctrl.Start() }()

	started := false
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		select {
		case err := <-serverErr:
			fmt.Fprintf(os.Stderr, "Control surface failed to start: %v\n", err)
			os.Exit(1)
		default:
		}
		if instance.HealthCheck(cfg.ControlPort) == nil {
			started = true
			break
		}
	}
	if !started {
		fmt.Fprintf(os.Stderr, "Control surface failed to become ready within timeout\n")
		os.Exit(1)
	}

	fmt.Printf("sentineld control surface ready at http://127.0.0.1:%d\n", cfg.ControlPort)

	if err := instanceMgr.WritePIDFile(os.Getpid(), cfg.ControlPort, basePath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write PID file: %v\n", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Control surface error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("\nShutting down (signal received)...")
	case <-ctrl.ShutdownRequested():
		fmt.Println("\nShutting down (API request)...")
	}

	cancel()
	realtime.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Control surface shutdown error: %v\n", err)
	}

	if bridge != nil {
		bridge.Close()
	}
	if embeddedNATS != nil {
		embeddedNATS.Shutdown()
	}

	if err := prevalenceStore.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save prevalence store: %v\n", err)
	}
	if err := signatureEngine.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save signature database: %v\n", err)
	}

	instanceMgr.RemovePIDFile()
	fmt.Println("Goodbye!")
}

// buildSecondOpinionEngines wires the external Defender subprocess and
// remote VirusTotal-style lookup as second-opinion engines, gated by
// aggregate.DefenderTrigger/VirusTotalTrigger (disagreement, temp/appdata
// path, unsigned+suspicious).
func buildSecondOpinionEngines(cfg *config.Config) []aggregate.SecondOpinionEngine {
	var second []aggregate.SecondOpinionEngine

	if cfg.EnableDefenderSecondOpinion {
		scanner := extscan.New(cfg.DefenderBinaryPath, []string{"-Scan", "-ScanType", "3", "-File"}, 60*time.Second)
		ready := func() bool {
			_, err := os.Stat(cfg.DefenderBinaryPath)
			return err == nil
		}
		defenderEngine := engine.NewSubprocessEngine("defender", cfg.EngineWeights.Defender, scanner, ready)
		second = append(second, aggregate.SecondOpinionEngine{
			Engine:  defenderEngine,
			Trigger: aggregate.DefenderTrigger(cfg),
		})
	}

	if cfg.EnableVirusTotalSecondOpinion {
		client := reputation.NewRemoteClient(cfg.VirusTotalBaseURL, cfg.VirusTotalAPIKey)
		ready := func() bool { return cfg.VirusTotalAPIKey != "" }
		vtEngine := engine.NewRemoteReputationEngine("virustotal", cfg.EngineWeights.VirusTotal, client, ready)
		second = append(second, aggregate.SecondOpinionEngine{
			Engine:  vtEngine,
			Trigger: aggregate.VirusTotalTrigger(cfg),
		})
	}

	return second
}

// loadOrCreateMasterKey reads the quarantine master key from path,
// generating and persisting a new one on first run. Master key storage
// and rotation strategy are outside this daemon's scanning logic; this
// is the simplest viable local implementation.
func loadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == chacha20poly1305.KeySize {
		return data, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("persist master key: %w", err)
	}
	return key, nil
}

// getBasePath returns the directory containing the executable, or the
// current working directory if running via `go run`.
func getBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}

	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Base(filepath.Dir(dir)) == "go-build" {
		return os.Getwd()
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

func showInstanceStatus(pidFilePath string) {
	mgr := instance.NewManager(pidFilePath, "", 0)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if info == nil {
		fmt.Println("No sentineld daemon is currently running")
		return
	}

	statusIcon := "OK"
	if !info.IsResponding {
		statusIcon = "DEGRADED"
	}
	fmt.Println()
	fmt.Println("sentineld instance status")
	fmt.Printf("  PID:         %d\n", info.PID)
	fmt.Printf("  Port:        %d\n", info.Port)
	fmt.Printf("  Started:     %s (%s ago)\n",
		info.StartTime.Format("2006-01-02 15:04:05"),
		time.Since(info.StartTime).Round(time.Second))
	fmt.Printf("  Control API: http://127.0.0.1:%d\n", info.Port)
	fmt.Printf("  Health:      %s\n", statusIcon)
	fmt.Println()
}

func stopInstance(pidFilePath string, force bool) {
	mgr := instance.NewManager(pidFilePath, "", 0)
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("No sentineld daemon is currently running")
		return
	}

	if force {
		fmt.Printf("Force killing process %d...\n", info.PID)
		if err := instance.KillProcess(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to kill process: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Second)
		mgr.RemovePIDFile()
		fmt.Println("Instance terminated")
		return
	}

	fmt.Printf("Sending graceful shutdown request to instance on port %d...\n", info.Port)
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send shutdown request: %v\n", err)
		fmt.Println("Try using -force-stop to force kill the process")
		os.Exit(1)
	}

	fmt.Println("Waiting for graceful shutdown...")
	if instance.WaitForPortToBeAvailable(info.Port, 5*time.Second) {
		fmt.Println("Instance stopped successfully")
	} else {
		fmt.Println("Warning: instance may still be running")
		fmt.Println("Try: sentineld -force-stop")
	}
}
