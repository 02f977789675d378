package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpods-org/webpods/pkg/auth"
	"github.com/webpods-org/webpods/pkg/blob"
	"github.com/webpods-org/webpods/pkg/cache"
	"github.com/webpods-org/webpods/pkg/catalog"
	"github.com/webpods-org/webpods/pkg/client"
	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/events"
	"github.com/webpods-org/webpods/pkg/log"
	"github.com/webpods-org/webpods/pkg/metrics"
	"github.com/webpods-org/webpods/pkg/ratelimit"
	"github.com/webpods-org/webpods/pkg/server"
	"github.com/webpods-org/webpods/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "webpods",
	Short: "WebPods - append-only record store on subdomains",
	Long: `WebPods is a multi-tenant, append-only, content-addressed record
store. Each tenant ("pod") is addressed by subdomain and owns a
hierarchy of hash-chained logs ("streams") whose entries ("records")
are immutable once written.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"WebPods version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(podCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
		if !cmd.Flags().Changed("blob-root") {
			cfg.Blob.Root = dataDir + "/blobs"
		}
	}
	if blobRoot, _ := cmd.Flags().GetString("blob-root"); blobRoot != "" {
		cfg.Blob.Root = blobRoot
	}
	if apex, _ := cmd.Flags().GetString("apex"); apex != "" {
		cfg.Server.ApexDomain = apex
	}
	if rootPod, _ := cmd.Flags().GetString("root-pod"); rootPod != "" {
		cfg.Server.RootPod = rootPod
	}
	return cfg, nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the WebPods server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := storage.NewBoltStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		blobs, err := blob.NewStore(cfg.Blob.Root, cfg.Blob.URLTemplate)
		if err != nil {
			return err
		}

		authMgr, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return err
		}

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		cat := catalog.New(store, cache.New(cfg.Cache), blobs, broker, cfg.Server)
		limiter := ratelimit.New(cfg.RateLimit, store)
		srv := server.New(cfg, cat, authMgr, limiter, broker)

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv.StartJanitors(ctx)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(ctx)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var podCmd = &cobra.Command{
	Use:   "pod",
	Short: "Manage pods",
}

var podCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		pod, err := c.CreatePod(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Pod created: %s\n", pod.Name)
		return nil
	},
}

var podListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pods owned by the token's user",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		pods, err := c.ListPods()
		if err != nil {
			return err
		}
		if len(pods) == 0 {
			fmt.Println("No pods found")
			return nil
		}
		for _, pod := range pods {
			fmt.Printf("%s\t%s\n", pod.Name, pod.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var podDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a pod and all its content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeletePod(args[0]); err != nil {
			return err
		}
		fmt.Printf("Pod deleted: %s\n", args[0])
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token signed with the configured key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Auth.TokenKey == "" {
			return fmt.Errorf("auth.tokenKey must be configured to issue tokens")
		}

		userID, _ := cmd.Flags().GetString("user")
		pod, _ := cmd.Flags().GetString("pod")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		mgr, err := auth.NewManager(cfg.Auth)
		if err != nil {
			return err
		}
		token, err := mgr.Issue(userID, pod)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var tokenKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key for auth.tokenKey",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateKeyHex()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func apiClient(cmd *cobra.Command) (*client.Client, error) {
	serverURL, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("WEBPODS_TOKEN")
	}
	return client.NewClient(serverURL, token), nil
}

func init() {
	serverCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serverCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serverCmd.Flags().String("blob-root", "", "Blob store root (overrides config)")
	serverCmd.Flags().String("apex", "", "Apex domain (overrides config)")
	serverCmd.Flags().String("root-pod", "", "Pod served on the bare apex")

	for _, c := range []*cobra.Command{podCreateCmd, podListCmd, podDeleteCmd} {
		c.Flags().String("server", "http://localhost:3000", "Server base URL")
		c.Flags().String("token", "", "Bearer token (or WEBPODS_TOKEN)")
	}
	podCmd.AddCommand(podCreateCmd)
	podCmd.AddCommand(podListCmd)
	podCmd.AddCommand(podDeleteCmd)

	tokenIssueCmd.Flags().String("user", "", "User ID the token identifies")
	tokenIssueCmd.Flags().String("pod", "", "Optional pod scope")
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenKeygenCmd)
}
