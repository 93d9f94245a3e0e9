package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/activevideo/rfbtv-client/internal/config"
	"github.com/activevideo/rfbtv-client/internal/logger"
	"github.com/activevideo/rfbtv-client/internal/persistence"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/cdm"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/keyfilter"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/kernel"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/overlay"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/reports"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/timerengine"
	"github.com/activevideo/rfbtv-client/internal/rfbtv/transport"
)

var version = "dev"

var (
	cfgFile         string
	cfgOverrideFile string
	logLevel        string
)

var rootCmd = &cobra.Command{
	Use:   "rfbtv-client",
	Short: "RFB-TV client runtime",
	Long:  `rfbtv-client runs a single RFB-TV session against a session manager, per the client's §6.4 configuration file.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and run a session until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "path to the client's JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&cfgOverrideFile, "config-override", "", "optional YAML file layered over --config (ops-managed overrides)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() {
	logger.Init()
	if err := logger.SetLevel(logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid log level %q, using default\n", logLevel)
	}
	log := logger.Logger().With("component", "cli")

	cfg, err := config.Load(cfgFile, cfgOverrideFile)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	cookies, err := persistence.New(cfg.BaseStorePath)
	if err != nil {
		log.Error("failed to open cookie store", "path", cfg.BaseStorePath, "error", err)
		os.Exit(1)
	}

	conn := transport.New()
	timer := timerengine.New()
	keys := keyfilter.New()

	reportsManager := reports.NewManager(conn)
	reportTx := reportTransmitter{manager: reportsManager}

	k := kernel.New(kernel.Config{
		ClientManufacturer: cfg.ClientManufacturer,
		ClientModel:        cfg.ClientModel,
		MacAddress:         cfg.MacAddress,
		SetupParams:        cfg.SetupParams,
		ScreenWidth:        cfg.ScreenWidth(),
		ScreenHeight:       cfg.ScreenHeight(),
	}, conn, timer, reportTx, keys, cookies, logObserver{log: log})

	cdmRegistry := cdm.NewRegistry(k)
	cdmRegistry.Register([16]byte{}, &cdm.StubFactory{Salt: []byte(cfg.MacAddress)})
	k.SetCdmFactory(cdmRegistry)

	overlayWorker := overlay.New(overlay.SchemeLoader{
		HTTP: overlay.NewHTTPContentLoader(),
		WS:   overlay.NewWebSocketContentLoader(),
	}, logRenderer{log: log}, conn, cfg.ScreenWidth(), cfg.ScreenHeight())
	overlayWorker.Start()
	defer overlayWorker.Stop()
	k.SetFramebufferSink(overlayWorker)

	watcher, err := persistence.WatchForRotation(cookies, func(cookie []byte) {
		log.Info("cookie rotated externally", "bytes", len(cookie))
	})
	if err != nil {
		log.Warn("cookie rotation watch disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	go k.Run()
	defer k.Stop()

	timer.StartPlaybackReportLoop(k)
	reportTicker := time.NewTicker(100 * time.Millisecond)
	go func() {
		for t := range reportTicker.C {
			reportsManager.TimerTick(t)
		}
	}()
	defer reportTicker.Stop()
	defer timer.Stop()

	k.Initiate("", 0, false, cfg.SessionManagerURL, cfg.ScreenWidth(), cfg.ScreenHeight(), cfg.SetupParams)
	log.Info("session initiated", "session_manager_url", cfg.SessionManagerURL, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		k.Terminate()
		close(done)
	}()

	select {
	case <-done:
		log.Info("session terminated cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after shutdown timeout")
	}
}
