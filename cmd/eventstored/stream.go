package main

import (
	"fmt"

	"github.com/cuemby/eventstore/pkg/config"
	"github.com/cuemby/eventstore/pkg/logging"
	"github.com/cuemby/eventstore/pkg/server"
	"github.com/cuemby/eventstore/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Append to and read from streams",
}

var streamAppendCmd = &cobra.Command{
	Use:   "append STREAM_ID",
	Short: "Append one event to a stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		streamID := args[0]
		eventType, _ := cmd.Flags().GetString("type")
		data, _ := cmd.Flags().GetString("data")
		expected, _ := cmd.Flags().GetInt64("expected-version")

		srv, close, err := openLocalServer(cmd)
		if err != nil {
			return err
		}
		defer close()

		pos, eventNumber, err := srv.Append(streamID, types.EventNumber(expected), []types.ProposedEvent{{
			ID:   uuid.New(),
			Type: eventType,
			Data: []byte(data),
		}})
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		fmt.Printf("appended event %d at commit=%d prepare=%d\n", eventNumber, pos.Commit, pos.Prepare)
		return nil
	},
}

var streamReadCmd = &cobra.Command{
	Use:   "read STREAM_ID",
	Short: "Read events from a stream forward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		streamID := args[0]
		from, _ := cmd.Flags().GetInt64("from")
		count, _ := cmd.Flags().GetInt("count")

		srv, close, err := openLocalServer(cmd)
		if err != nil {
			return err
		}
		defer close()

		slice, err := srv.ReadStreamForward(streamID, types.EventNumber(from), count, true)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		for _, ev := range slice.Events {
			fmt.Printf("%d\t%s\t%s\n", ev.EventNumber, ev.Type, ev.Data)
		}
		return nil
	},
}

func init() {
	streamAppendCmd.Flags().String("type", "", "Event type (required)")
	streamAppendCmd.Flags().String("data", "", "Event payload")
	streamAppendCmd.Flags().Int64("expected-version", int64(types.Any), "Expected stream version")
	_ = streamAppendCmd.MarkFlagRequired("type")

	streamReadCmd.Flags().Int64("from", 0, "First event number to read")
	streamReadCmd.Flags().Int("count", 100, "Maximum events to read")

	streamCmd.PersistentFlags().StringP("config", "f", "", "Node configuration file (required)")
	_ = streamCmd.MarkPersistentFlagRequired("config")

	streamCmd.AddCommand(streamAppendCmd)
	streamCmd.AddCommand(streamReadCmd)
	rootCmd.AddCommand(streamCmd)
}

// openLocalServer opens a server bound to the node configuration named
// by --config, for the lifetime of a single CLI invocation. Starting it
// bootstraps the single-node raft coordinator just as a long-lived node
// does; the returned server is only valid for the duration of one
// command.
func openLocalServer(cmd *cobra.Command) (*server.Server, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.WithComponent("cli")
	srv, err := server.New(cfg.ServerConfig(), log)
	if err != nil {
		return nil, nil, fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return nil, nil, fmt.Errorf("start server: %w", err)
	}
	return srv, func() { _ = srv.Shutdown() }, nil
}
