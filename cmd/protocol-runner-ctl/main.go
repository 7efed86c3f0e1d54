// Command protocol-runner-ctl starts a protocol runner and exercises a few
// of its basic commands from the shell, useful for smoke-testing a runner
// binary during development.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tezedge/protocol-runner/protocolrunner"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var executablePath string
	var logLevel string

	root := &cobra.Command{
		Use:   "protocol-runner-ctl",
		Short: "Drive a protocol runner child process from the command line",
	}
	root.PersistentFlags().StringVar(&executablePath, "executable", "", "path to the protocol runner executable")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level forwarded to the runner")
	root.MarkPersistentFlagRequired("executable")

	newAPI := func() (*protocolrunner.ProtocolRunnerApi, error) {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return nil, err
		}
		config := protocolrunner.NewConfiguration(executablePath, protocolrunner.WithLogLevel(level))
		log := logrus.NewEntry(logrus.StandardLogger())
		return protocolrunner.NewProtocolRunnerApi(config, log), nil
	}

	root.AddCommand(newStartCmd(newAPI))
	root.AddCommand(newPingCmd(newAPI))
	root.AddCommand(newShutdownCmd(newAPI))
	return root
}

func parseLogLevel(s string) (protocolrunner.LogLevel, error) {
	switch s {
	case "critical":
		return protocolrunner.LogCritical, nil
	case "error":
		return protocolrunner.LogError, nil
	case "warning":
		return protocolrunner.LogWarning, nil
	case "info":
		return protocolrunner.LogInfo, nil
	case "debug":
		return protocolrunner.LogDebug, nil
	case "trace":
		return protocolrunner.LogTrace, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func newStartCmd(newAPI func() (*protocolrunner.ProtocolRunnerApi, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Spawn the runner and wait for its socket to appear",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			supervisor, err := api.Start(ctx)
			if err != nil {
				// The child may still be running; kill it rather than
				// leaking it. The library leaves that choice to the
				// caller.
				_ = supervisor.Kill()
				return err
			}
			fmt.Printf("protocol runner started, pid=%d\n", supervisor.Pid())
			return nil
		},
	}
}

func newPingCmd(newAPI func() (*protocolrunner.ProtocolRunnerApi, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Start the runner and send it a Ping",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := api.Start(ctx); err != nil {
				return err
			}
			conn, err := api.Connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.Ping(ctx); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
}

func newShutdownCmd(newAPI func() (*protocolrunner.ProtocolRunnerApi, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Start the runner and ask it to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPI()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := api.Start(ctx); err != nil {
				return err
			}
			conn, err := api.Connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.Shutdown(ctx)
		},
	}
}
