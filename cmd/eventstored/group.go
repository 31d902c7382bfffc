package main

import (
	"fmt"
	"time"

	"github.com/cuemby/eventstore/pkg/types"
	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage persistent subscription groups",
}

var groupCreateCmd = &cobra.Command{
	Use:   "create STREAM_ID GROUP_NAME",
	Short: "Create a persistent subscription group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		streamID, groupName := args[0], args[1]
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		maxSubscribers, _ := cmd.Flags().GetInt("max-subscribers")

		srv, close, err := openLocalServer(cmd)
		if err != nil {
			return err
		}
		defer close()

		settings := types.PersistentSubscriptionSettings{
			StartFrom:          types.Any,
			ResolveLinks:       true,
			MessageTimeout:     int64(30 * time.Second),
			MaxRetries:         maxRetries,
			LiveBufferSize:     500,
			ReadBatchSize:      20,
			HistoryBufferSize:  500,
			CheckpointAfter:    int64(2 * time.Second),
			MinCheckpointCount: 10,
			MaxCheckpointCount: 1000,
			MaxSubscribers:     maxSubscribers,
		}
		if err := srv.CreatePersistentGroup(streamID, groupName, settings, types.FilterSpec{}); err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		fmt.Printf("group %s/%s created\n", streamID, groupName)
		return nil
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete STREAM_ID GROUP_NAME",
	Short: "Delete a persistent subscription group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		streamID, groupName := args[0], args[1]

		srv, close, err := openLocalServer(cmd)
		if err != nil {
			return err
		}
		defer close()

		if err := srv.DeletePersistentGroup(streamID, groupName); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		fmt.Printf("group %s/%s deleted\n", streamID, groupName)
		return nil
	},
}

func init() {
	groupCreateCmd.Flags().Int("max-retries", 10, "Max delivery retries before parking")
	groupCreateCmd.Flags().Int("max-subscribers", 0, "Max concurrent consumers (0 = unlimited)")

	groupCmd.PersistentFlags().StringP("config", "f", "", "Node configuration file (required)")
	_ = groupCmd.MarkPersistentFlagRequired("config")

	groupCmd.AddCommand(groupCreateCmd)
	groupCmd.AddCommand(groupDeleteCmd)
	rootCmd.AddCommand(groupCmd)
}
