package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/internal/worker"
)

var (
	workerAddress  string
	workerAPIKey   string
	workerPoolSize int
	workerName     string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the local worker endpoint",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an HTTP worker endpoint",
	Long: `Start an HTTP worker endpoint that executes submitted tasks. The worker runs
until it receives SIGINT or SIGTERM.`,
	Example: `  mwfaas worker start --address :8090 --api-key secret`,
	Args:    cobra.NoArgs,
	RunE:    runWorkerStart,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerStartCmd)

	f := workerStartCmd.Flags()
	f.StringVarP(&workerAddress, "address", "a", "", "address to listen on (e.g. :8090)")
	f.StringVar(&workerAPIKey, "api-key", "", "API key required from clients")
	f.IntVar(&workerPoolSize, "pool-size", 0, "maximum concurrently running tasks")
	f.StringVar(&workerName, "name", "", "worker name reported by /health")
}

func runWorkerStart(cmd *cobra.Command, _ []string) error {
	overrides := make(map[string]string)
	if cmd.Flags().Changed("address") {
		overrides["worker.address"] = workerAddress
	}
	if cmd.Flags().Changed("api-key") {
		overrides["worker.api_key"] = workerAPIKey
	}
	if cmd.Flags().Changed("pool-size") {
		overrides["worker.pool_size"] = strconv.Itoa(workerPoolSize)
	}
	if cmd.Flags().Changed("name") {
		overrides["worker.name"] = workerName
	}

	cfg, err := loadConfig(overrides)
	if err != nil {
		return err
	}

	srv, err := worker.NewServer(&cfg.Worker, worker.WithLogger(log))
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Worker.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Worker.Address, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "worker %s listening on %s\n", cfg.Worker.Name, ln.Addr())
	return serveWorker(ctx, srv, ln)
}

// serveWorker serves until ctx is done, then shuts the worker down.
func serveWorker(ctx context.Context, srv *worker.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down worker")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker shutdown", zap.Error(err))
		return err
	}
	return nil
}
