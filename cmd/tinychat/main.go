package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivymerfe/tinychat/internal/client"
	"github.com/ivymerfe/tinychat/internal/config"
	"github.com/ivymerfe/tinychat/pkg/logging"
	"github.com/ivymerfe/tinychat/pkg/names"
)

type termUI struct{}

func (termUI) Write(line string) { fmt.Println(names.Strip(line)) }
func (termUI) Clear()            { fmt.Print("\033[2J\033[H") }

func main() {
	var (
		settingsPath string
		logLevel     string
	)

	root := &cobra.Command{
		Use:   "tinychat",
		Short: "LAN chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.ParseLevel(logLevel))
			slog.SetDefault(logger)

			cfg, err := config.Load(logger, settingsPath)
			if err != nil {
				return err
			}

			c := client.New(cfg, termUI{}, logger)
			c.Start()

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					c.Input(scanner.Text())
				}
				c.Stop()
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
			case <-c.Done():
			}

			c.Shutdown()
			cfg.Client.Username = c.Username()
			if err := config.Save(cfg, settingsPath); err != nil {
				logger.Warn("failed to save settings", slog.Any("error", err))
			}
			return nil
		},
	}

	root.Flags().StringVar(&settingsPath, "settings", "settings.json", "settings file path")
	root.Flags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
