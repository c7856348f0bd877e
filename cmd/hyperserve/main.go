// Command hyperserve runs the server from a config file, with subcommands
// for health probing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/searchktools/hyperserve/app"
	"github.com/searchktools/hyperserve/config"
	corehttp "github.com/searchktools/hyperserve/core/http"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "hyperserve",
		Short:         "High-performance request-serving engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCmd(), checkCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}

			registerDemoRoutes(a)

			return a.Run(context.Background())
		},
	}
}

// registerDemoRoutes mounts a minimal surface so a bare binary answers
// something besides the health probes.
func registerDemoRoutes(a *app.App) {
	a.Engine().GET("/", func(ctx *corehttp.Context) {
		ctx.JSON(200, map[string]string{"server": "hyperserve", "status": "running"})
	})
}

func checkCmd() *cobra.Command {
	var (
		probe   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe a running server's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			host := cfg.Host
			if host == "0.0.0.0" || host == "" {
				host = "127.0.0.1"
			}
			url := fmt.Sprintf("http://%s:%d%s/%s", host, cfg.Port, cfg.HealthPrefix, probe)

			client := &http.Client{Timeout: timeout}
			resp, err := client.Get(url)
			if err != nil {
				return fmt.Errorf("probe %s: %w", url, err)
			}
			defer resp.Body.Close()

			var snapshot map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&snapshot); err == nil {
				out, _ := json.MarshalIndent(snapshot, "", "  ")
				fmt.Println(string(out))
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("probe %s returned %d", probe, resp.StatusCode)
			}
			fmt.Printf("%s: ok\n", probe)
			return nil
		},
	}
	cmd.Flags().StringVar(&probe, "probe", "ready", "probe to hit: live, ready or startup")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "probe timeout")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("hyperserve", version)
		},
	}
}

// version is set at build time via -ldflags.
var version = "dev"
