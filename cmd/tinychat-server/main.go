package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivymerfe/tinychat/internal/config"
	"github.com/ivymerfe/tinychat/internal/server"
	"github.com/ivymerfe/tinychat/pkg/logging"
	"github.com/ivymerfe/tinychat/pkg/names"
)

// termConsole renders operator output on the terminal with the inline
// markup stripped.
type termConsole struct{}

func (termConsole) Write(line string) { fmt.Println(names.Strip(line)) }
func (termConsole) Clear()            { fmt.Print("\033[2J\033[H") }

func main() {
	var (
		settingsPath string
		listenAddr   string
		metricsAddr  string
		logLevel     string
	)

	root := &cobra.Command{
		Use:   "tinychat-server",
		Short: "LAN chat server with channel routing and UDP discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.ParseLevel(logLevel))
			slog.SetDefault(logger)

			cfg, err := config.Load(logger, settingsPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Listen = listenAddr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}

			srv := server.New(cfg, termConsole{}, logger)
			srv.Start()

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					srv.Input(scanner.Text())
				}
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
			case <-srv.Done():
			}

			srv.Shutdown()
			if err := config.Save(cfg, settingsPath); err != nil {
				logger.Warn("failed to save settings", slog.Any("error", err))
			}
			return srv.Err()
		},
	}

	root.Flags().StringVar(&settingsPath, "settings", "settings.json", "settings file path")
	root.Flags().StringVar(&listenAddr, "listen", "", "listen address override")
	root.Flags().StringVar(&metricsAddr, "metrics", "", "metrics exposition address")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
