// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"toolgate/platform/auth"
	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/confluence"
	"toolgate/platform/connectors/jira"
	"toolgate/platform/connectors/postgres"
	"toolgate/platform/connectors/registry"
	"toolgate/platform/connectors/virustotal"
	"toolgate/platform/gateway"
	"toolgate/platform/shared/logger"
)

var version = gateway.Version

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "toolgate",
		Short:   "Toolgate MCP gateway",
		Long:    `toolgate serves PostgreSQL, Jira, Confluence and VirusTotal tools to agents behind an API key gate.`,
		Version: version,
		// serve is the default action
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML config file (defaults to $"+config.ConfigFileEnv+")")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(checkDBCmd(&configPath))
	rootCmd.AddCommand(validateKeyCmd(&configPath))
	rootCmd.AddCommand(exampleConfigCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

// checkDBCmd opens the pool once and prints its stats
func checkDBCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-db",
		Short: "Verify database connectivity with the configured credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			pool, err := openPool(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			stats, _ := pool.Stats()
			fmt.Printf("✅ Connected to %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
			fmt.Printf("   Pool: %d open, %d idle, max %d\n", stats.OpenConnections, stats.Idle, stats.MaxOpenConnections)
			return nil
		},
	}
}

// validateKeyCmd runs the same lookup as the API key middleware
func validateKeyCmd(configPath *string) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "validate-key",
		Short: "Check whether an API key exists and is active",
		Long: `Check an API key against the configured key table.

Examples:
  toolgate validate-key --key "$API_KEY"
  toolgate validate-key -k abc123 --config /etc/toolgate.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return errors.New("--key is required")
			}
			cfg, err := loadConfig(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			pool := postgres.NewPoolManager(cfg.Database)
			defer pool.Close()

			gate, err := auth.NewGate(postgres.NewExecutor(pool), cfg.APIKeys)
			if err != nil {
				return err
			}
			ok, err := gate.Check(cmd.Context(), key)
			if err != nil {
				return fmt.Errorf("lookup failed: %w", err)
			}
			if !ok {
				return fmt.Errorf("key %s is not valid", base.MaskSecret(key))
			}
			fmt.Printf("✅ Key %s is valid (client %s)\n", base.MaskSecret(key), auth.ClientID(key))
			return nil
		},
	}
	cmd.Flags().StringVarP(&key, "key", "k", "", "API key to check (required)")
	return cmd
}

func exampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print an example YAML config file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(config.GenerateExampleConfigFile())
		},
	}
}

// startupConnectTimeout bounds the first connection made before serving
const startupConnectTimeout = 15 * time.Second

// openPool builds the shared pool and connects once, so a database that is
// down or misconfigured stops startup instead of failing the first tool call
func openPool(ctx context.Context, cfg config.DatabaseConfig, opts ...postgres.PoolOption) (*postgres.PoolManager, error) {
	pool := postgres.NewPoolManager(cfg, opts...)

	ctx, cancel := context.WithTimeout(ctx, startupConnectTimeout)
	defer cancel()
	if _, err := pool.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("database unavailable at startup: %w", err)
	}
	return pool, nil
}

// loadConfig reads env and file config and resolves the database password
// from AWS Secrets Manager when a secret ARN is configured
func loadConfig(ctx context.Context, path string) (*config.GatewayConfig, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Database.PasswordSecretARN != "" {
		sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
			Region:   os.Getenv("AWS_REGION"),
			CacheTTL: 5 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if err := config.ResolveDatabasePassword(ctx, sm, &cfg.Database); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runServe(ctx context.Context, configPath string) error {
	log := logger.New("toolgate")

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warn("", "", "Failed to close database pool", map[string]interface{}{"error": err.Error()})
		}
	}()

	executor := postgres.NewExecutor(pool,
		postgres.WithStatementTimeout(cfg.Database.StatementTimeout),
		postgres.WithExposeStatements(cfg.Server.ExposeQueryErrors),
	)
	gate, err := auth.NewGate(executor, cfg.APIKeys)
	if err != nil {
		return err
	}

	reg := registry.NewRegistry()
	if err := registerConnectors(reg, cfg, executor, gate, log); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := reg.DisconnectAll(dctx); err != nil {
			log.Warn("", "", "Connector disconnect reported errors", map[string]interface{}{"error": err.Error()})
		}
	}()

	limiter, closeLimiter, err := gateway.NewLimiter(ctx, cfg.Server)
	if err != nil {
		return err
	}
	defer func() { _ = closeLimiter() }()

	srv, err := gateway.NewServer(gateway.Options{
		Config:   cfg.Server,
		Registry: reg,
		Auth:     gate,
		Limiter:  limiter,
		Pool:     pool,
		Logger:   log.With("gateway"),
	})
	if err != nil {
		return err
	}

	log.Info("", "", "Starting Toolgate", map[string]interface{}{
		"version":      version,
		"port":         cfg.Server.Port,
		"rate_limit":   cfg.Server.RateLimitPerMinute,
		"redis":        cfg.Server.RedisURL != "",
		"connectors":   reg.List(),
		"tables_gated": len(cfg.Database.AllowedTables) > 0,
	})
	return srv.ListenAndServe(ctx)
}

// registerConnectors adds the database connectors and every upstream proxy.
// A proxy that fails to build is logged and skipped.
func registerConnectors(reg *registry.Registry, cfg *config.GatewayConfig, executor *postgres.Executor, gate *auth.Gate, log *logger.Logger) error {
	builder := postgres.NewBuilder(cfg.Database.AllowedTables)
	if err := reg.Register(postgres.NewPostgresConnector(executor, builder)); err != nil {
		return err
	}
	if err := reg.Register(auth.NewConnector(gate)); err != nil {
		return err
	}

	proxies := []struct {
		name  string
		build func() (base.Connector, error)
	}{
		{"jira", func() (base.Connector, error) { return jira.NewJiraConnector(cfg.Atlassian) }},
		{confluence.ConnectorName, func() (base.Connector, error) { return confluence.NewConfluenceConnector(cfg.Atlassian) }},
		{"virustotal", func() (base.Connector, error) { return virustotal.NewVirusTotalConnector(cfg.VirusTotal) }},
	}
	for _, p := range proxies {
		c, err := p.build()
		if err != nil {
			log.Error("", "", "Skipping connector", map[string]interface{}{
				"connector": p.name,
				"error":     err.Error(),
			})
			continue
		}
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
