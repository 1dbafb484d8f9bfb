package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/distacean/distacean/pkg/transport"
	"github.com/distacean/distacean/pkg/types"
)

// joinCmd sends a single JoinRequest frame to a running leader, asking it
// to add another already-running node as a voter. This is the manual
// counterpart to serve --join-addr (which a node performs against itself
// at startup): useful for admin scripting, or for a node that was started
// standalone and needs to be attached to a cluster after the fact.
var joinCmd = &cobra.Command{
	Use:   "join --leader LEADER_ADDR --node-id ID --addr ADDR",
	Short: "Ask a running leader to add a node as a voter",
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().String("leader", "", "Bind address of the current cluster leader (required)")
	joinCmd.Flags().Uint64("node-id", 0, "Node ID of the node to add (required)")
	joinCmd.Flags().String("addr", "", "Bind address of the node to add (required)")
}

func runJoin(cmd *cobra.Command, args []string) error {
	leaderAddr, _ := cmd.Flags().GetString("leader")
	nodeID, _ := cmd.Flags().GetUint64("node-id")
	addr, _ := cmd.Flags().GetString("addr")

	if leaderAddr == "" || nodeID == 0 || addr == "" {
		return fmt.Errorf("--leader, --node-id, and --addr are all required")
	}

	peers := transport.NewPeerManager(nil, zerolog.Nop())
	defer peers.Close()

	body, err := json.Marshal(types.JoinRequest{NodeID: nodeID, Addr: addr})
	if err != nil {
		return fmt.Errorf("encoding join request: %w", err)
	}
	payload := append([]byte{byte(types.WireKindJoin)}, body...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := peers.RequestResponse(ctx, leaderAddr, payload)
	if err != nil {
		return fmt.Errorf("sending join request to %s: %w", leaderAddr, err)
	}

	if len(resp) == 0 {
		return fmt.Errorf("leader at %s failed to handle the join request", leaderAddr)
	}
	var result types.JoinResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("decoding join response: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("leader rejected join: %s", result.Error)
	}

	fmt.Printf("Node %d (%s) added to the cluster at %s\n", nodeID, addr, leaderAddr)
	return nil
}
