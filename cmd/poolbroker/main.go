package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/poolbroker/pkg/broadcast"
	"github.com/cuemby/poolbroker/pkg/config"
	"github.com/cuemby/poolbroker/pkg/dispatch"
	"github.com/cuemby/poolbroker/pkg/health"
	"github.com/cuemby/poolbroker/pkg/log"
	"github.com/cuemby/poolbroker/pkg/metrics"
	"github.com/cuemby/poolbroker/pkg/operations"
	"github.com/cuemby/poolbroker/pkg/server"
	"github.com/cuemby/poolbroker/pkg/store"
	"github.com/cuemby/poolbroker/pkg/workflow"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "poolbroker",
	Short:   "poolbroker serves a shared pool of opaque JSON items over HTTP",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("poolbroker version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	serveCmd.Flags().String("config", "", "path to the TOML subscriber configuration")
	serveCmd.Flags().Bool("print-openapi", false, "print the OpenAPI schema and exit")
	serveCmd.Flags().String("listen", "0.0.0.0:8000", "address the ingress façade listens on")
	serveCmd.Flags().String("health-listen", "0.0.0.0:8001", "address the health/metrics server listens on")
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poolbroker server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	printOpenAPI, _ := cmd.Flags().GetBool("print-openapi")
	if printOpenAPI {
		return printOpenAPISchema()
	}

	configPath, _ := cmd.Flags().GetString("config")
	listen, _ := cmd.Flags().GetString("listen")
	healthListen, _ := cmd.Flags().GetString("health-listen")

	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "poolbroker: failed to load config %s: %v\n", configPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://127.0.0.1/"
	}

	st, err := store.New(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolbroker: failed to construct store client for %s: %v\n", redisURL, err)
		os.Exit(1)
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.TestConnection(probeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "poolbroker: backing store unreachable at %s: %v\n", redisURL, err)
		os.Exit(1)
	}

	eng := workflow.New(st, dispatch.New(), operations.NewRegistry(), broadcast.NewBus(), cfg)
	srv := server.New(eng)

	collector := metrics.NewCollector(srv.Sampler())
	collector.Start()
	defer collector.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthSrv := health.NewServer(st)
	go func() {
		if err := healthSrv.Start(ctx, healthListen); err != nil {
			log.WithComponent("main").Error().Err(err).Msg("health server exited")
		}
	}()

	log.Logger.Info().Str("listen", listen).Str("redis_url", redisURL).Msg("poolbroker starting")
	return runHTTPServer(ctx, listen, srv)
}

func printOpenAPISchema() error {
	doc := server.OpenAPI()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
