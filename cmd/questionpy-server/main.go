package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/containerd/log"
	"github.com/moby/sys/reexec"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/questionpy-org/questionpy-server/api/server"
	packagesrouter "github.com/questionpy-org/questionpy-server/api/server/router/packages"
	systemrouter "github.com/questionpy-org/questionpy-server/api/server/router/system"
	"github.com/questionpy-org/questionpy-server/daemon"
	"github.com/questionpy-org/questionpy-server/daemon/config"
	"github.com/questionpy-org/questionpy-server/worker"
	"github.com/questionpy-org/questionpy-server/worker/runtime"
)

func init() {
	// Process workers are this binary re-executed under the worker argv0.
	reexec.Register(worker.ProcessName, runtime.Main)
}

type serverOptions struct {
	configFile string
	version    bool
}

func newServerCommand() *cobra.Command {
	var opts serverOptions

	cmd := &cobra.Command{
		Use:           "questionpy-server [OPTIONS]",
		Short:         "An application server running question packages in isolated workers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.version, "version", "v", false, "Print version information and quit")
	flags.StringVar(&opts.configFile, "config", "", "Server configuration file")
	return cmd
}

func runServer(opts serverOptions) error {
	if opts.version {
		fmt.Println("questionpy-server version", daemon.Version)
		return nil
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if err := log.SetLevel(cfg.General.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.NewDaemon(cfg, clock.NewClock())
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := d.Shutdown(context.Background()); err != nil {
			log.G(ctx).WithError(err).Warn("daemon shutdown failed")
		}
	}()

	srv := server.New()
	srv.InitRouter(
		packagesrouter.NewRouter(d),
		systemrouter.NewRouter(d),
	)

	addr := net.JoinHostPort(cfg.WebService.ListenAddress, fmt.Sprint(cfg.WebService.ListenPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.G(ctx).WithField("address", addr).Info("server listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.G(ctx).Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if reexec.Init() {
		return
	}

	logrus.SetOutput(os.Stderr)
	if err := newServerCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
