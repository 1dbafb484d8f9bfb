package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/distacean/distacean/pkg/distacean"
	"github.com/distacean/distacean/pkg/healthapi"
	"github.com/distacean/distacean/pkg/log"
	"github.com/distacean/distacean/pkg/metrics"
	"github.com/distacean/distacean/pkg/types"
)

// fileConfig is the optional YAML config file format for serve, layered
// under whatever was passed on the command line: flags take precedence
// over a loaded file, and the file takes precedence over flag defaults.
type fileConfig struct {
	NodeID     uint64 `yaml:"node_id"`
	BindAddr   string `yaml:"bind_addr"`
	DataDir    string `yaml:"data_dir"`
	Bootstrap  bool   `yaml:"bootstrap"`
	JoinAddr   string `yaml:"join_addr"`
	HealthAddr string `yaml:"health_addr"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a cluster member",
	Long: `serve starts one cluster member: it bootstraps a fresh single-member
cluster, joins an existing cluster via --join-addr, or rejoins a cluster
it already belongs to if --data-dir already holds Raft state.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML config file")
	serveCmd.Flags().Uint64("node-id", 1, "Unique node ID")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7000", "Address for Raft and peer communication")
	serveCmd.Flags().String("data-dir", "./distacean-data", "Data directory for cluster state")
	serveCmd.Flags().Bool("bootstrap", false, "Bootstrap a fresh single-member cluster")
	serveCmd.Flags().String("join-addr", "", "Bind address of an existing cluster member to join")
	serveCmd.Flags().String("health-addr", "127.0.0.1:9090", "Address for the /health, /ready, /metrics HTTP server")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, healthAddr, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("Starting distacean node %d at %s (data dir: %s)\n", cfg.NodeID, cfg.BindAddr, cfg.DataDir)

	d, err := distacean.Init(cfg)
	if err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	collector := metrics.NewCollector(d.Node())
	collector.Start()
	defer collector.Stop()

	hs := healthapi.NewServer(d.Node())
	go func() {
		if err := hs.Start(healthAddr); err != nil {
			log.Logger.Error().Err(err).Msg("health server stopped")
		}
	}()
	fmt.Printf("Health endpoint: http://%s/health\n", healthAddr)
	fmt.Printf("Ready endpoint:  http://%s/ready\n", healthAddr)
	fmt.Printf("Metrics:         http://%s/metrics\n", healthAddr)

	fmt.Println("Waiting for leader election...")
	for i := 0; i < 100; i++ {
		if d.IsLeader() || d.Node().LeaderAddr() != "" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if d.IsLeader() {
		fmt.Println("This node is the leader")
	} else if leader := d.Node().LeaderAddr(); leader != "" {
		fmt.Printf("Leader is at %s\n", leader)
	}

	fmt.Println("Node running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	if err := d.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down cleanly: %w", err)
	}
	fmt.Println("Shutdown complete")
	return nil
}

func loadServeConfig(cmd *cobra.Command) (types.ClusterConfig, string, error) {
	var fc fileConfig
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return types.ClusterConfig{}, "", fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return types.ClusterConfig{}, "", fmt.Errorf("parsing config file: %w", err)
		}
	}

	nodeID, _ := cmd.Flags().GetUint64("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	joinAddr, _ := cmd.Flags().GetString("join-addr")
	healthAddr, _ := cmd.Flags().GetString("health-addr")

	if !cmd.Flags().Changed("node-id") && fc.NodeID != 0 {
		nodeID = fc.NodeID
	}
	if !cmd.Flags().Changed("bind-addr") && fc.BindAddr != "" {
		bindAddr = fc.BindAddr
	}
	if !cmd.Flags().Changed("data-dir") && fc.DataDir != "" {
		dataDir = fc.DataDir
	}
	if !cmd.Flags().Changed("bootstrap") && fc.Bootstrap {
		bootstrap = fc.Bootstrap
	}
	if !cmd.Flags().Changed("join-addr") && fc.JoinAddr != "" {
		joinAddr = fc.JoinAddr
	}
	if !cmd.Flags().Changed("health-addr") && fc.HealthAddr != "" {
		healthAddr = fc.HealthAddr
	}

	return types.ClusterConfig{
		NodeID:    nodeID,
		BindAddr:  bindAddr,
		DataDir:   dataDir,
		Bootstrap: bootstrap,
		JoinAddr:  joinAddr,
	}, healthAddr, nil
}
