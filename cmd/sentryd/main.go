package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/sentryd"
)

var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "sentryd",
		Short: "Single-workload supervisor: rebuilds and restarts one service on change or crash",
		Long: "sentryd keeps one long-running service alive. It watches the service's\n" +
			"source tree, rebuilds and restarts the service when enough changes\n" +
			"accumulate or when it crashes, and persists a health snapshot on every\n" +
			"transition. SIGHUP reloads configuration; SIGINT/SIGTERM shut down\n" +
			"gracefully.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "sentryd.toml", "path to TOML config file")

	root.AddCommand(
		createServeCommand(flags),
		createValidateCommand(flags),
		createVersionCommand(),
	)
	return root
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := sentryd.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			slog.SetDefault(fc.Log.NewSlogger())

			code, err := sentryd.Run(context.Background(), flags.ConfigPath)
			if err != nil {
				slog.Error("supervisor failed", "error", err)
			}
			os.Exit(code)
			return nil
		},
	}
}

func createValidateCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config file and print the resolved settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := sentryd.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			ecfg, err := fc.Engine()
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(ecfg, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(b))
			return nil
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sentryd version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("sentryd %s\n", version)
		},
	}
}
