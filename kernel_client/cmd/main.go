package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Scusemua/go-utils/config"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scusemua/notebook-kernel-client/common/configuration"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/client"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/rest"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/transport"
	"github.com/scusemua/notebook-kernel-client/common/metrics"
	"github.com/scusemua/notebook-kernel-client/common/utils"
	"github.com/scusemua/notebook-kernel-client/kernel_client/domain"
	"github.com/scusemua/notebook-kernel-client/kernel_client/internal"
)

var (
	options      = domain.KernelClientOptions{}
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// Set default options.
	options.ClientOptions = *configuration.DefaultClientOptions()
	options.ServerURL = utils.GetEnv("JUPYTER_SERVER_URL", options.ServerURL)
	options.Token = utils.GetEnv("JUPYTER_TOKEN", "")
	options.ReadyTimeoutMillis = domain.DefaultReadyTimeoutMillis
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() {
	flags, err := config.ValidateOptions(&options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}
}

func main() {
	ValidateOptions()

	// Loggers created before the options were parsed do not know the log level.
	globalLogger = config.GetLogger("")

	if options.PrettyPrintOptions {
		globalLogger.Info("Starting the kernel client with the following options:\n%s\n", options.PrettyString(2))
	}

	os.Exit(run())
}

func run() int {
	clientMetrics, err := metrics.NewClientMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		globalLogger.Error("Failed to register client metrics: %v", err)
		return 1
	}

	metricsServer := metrics.NewServer(options.PrometheusPort, nil)
	if err = metricsServer.Start(); err != nil {
		globalLogger.Error("Failed to start metrics server: %v", err)
		return 1
	}
	defer func() {
		if metricsServer.IsRunning() {
			_ = metricsServer.Stop()
		}
	}()

	api, err := rest.NewClient(options.ServerURL, options.Token)
	if err != nil {
		globalLogger.Error("Invalid server URL \"%s\": %v", options.ServerURL, err)
		return 1
	}

	session, err := client.NewSession(&options.ClientOptions, api, transport.NewWebSocketTransport(options.Token), clientMetrics)
	if err != nil {
		globalLogger.Error("Failed to create session: %v", err)
		return 1
	}
	defer finalize(session)

	session.Subscribe(func(event client.Event) {
		switch event.Type {
		case client.EventConnectionDead, client.EventDead, client.EventConnectionFailed:
			globalLogger.Error(utils.RedStyle.Render("Kernel %s: %v"), session.KernelId(), event)
		case client.EventReconnecting, client.EventAutorestarting, client.EventRestarting:
			globalLogger.Warn(utils.OrangeStyle.Render("Kernel %s: %v"), session.KernelId(), event)
		default:
			globalLogger.Debug("Kernel %s: %v", session.KernelId(), event)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start detecting stop signals
	go func() {
		select {
		case <-sig:
			globalLogger.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err = connect(ctx, session); err != nil {
		globalLogger.Error(utils.RedStyle.Render("Failed to connect to kernel: %v"), err)
		return 1
	}

	globalLogger.Info("Connected to kernel %s.", session.KernelId())

	runner := internal.NewRunner(session, os.Stdin, os.Stdout, &internal.RunnerOptions{
		ExecutionTimeout: options.ExecutionTimeout(),
		Color:            !options.NoColor,
	})

	if options.Code == "" {
		if err = runner.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			globalLogger.Error("%v", err)
			return 1
		}

		return 0
	}

	result, err := runner.Run(ctx, options.Code)
	if err != nil {
		globalLogger.Error("Execution failed: %v", err)
		return 1
	}

	if !result.Succeeded() {
		return 2
	}

	return 0
}

// connect starts or attaches to the kernel and waits until it is ready.
func connect(ctx context.Context, session *client.Session) error {
	requestCtx, cancel := context.WithTimeout(ctx, options.RequestTimeout())
	defer cancel()

	var err error
	if options.KernelId != "" {
		err = session.Attach(requestCtx, options.KernelId)
	} else {
		err = session.Start(requestCtx, options.KernelName)
	}

	if err != nil {
		return err
	}

	if err = session.WaitReady(options.ReadyTimeout()); err != nil {
		return fmt.Errorf("kernel %s did not become ready: %w", session.KernelId(), err)
	}

	return nil
}

func finalize(session *client.Session) {
	if options.KillOnExit && session.KernelId() != "" {
		ctx, cancel := context.WithTimeout(context.Background(), options.RequestTimeout())
		defer cancel()

		if err := session.Kill(ctx); err != nil {
			globalLogger.Error("Failed to shut kernel %s down: %v", session.KernelId(), err)
		}
	}

	_ = session.Close()
}
