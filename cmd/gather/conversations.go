package main

import (
	"context"
	"fmt"
	"time"

	gather "github.com/gather-social/gather-go"
	"github.com/spf13/cobra"
)

var conversationsUnread bool

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.Flags().BoolVar(&conversationsUnread, "unread", false, "include unread counts")
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Conversations.List(ctx, conversationsUnread)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			if result.Error != nil {
				return result.Error
			}
			return fmt.Errorf("request rejected")
		}

		var conversations []gather.Conversation
		if err := result.Decode(&conversations); err != nil {
			return fmt.Errorf("failed to decode conversations: %w", err)
		}
		if len(conversations) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
			return nil
		}

		for _, c := range conversations {
			title := valueOrDefault(c.Title, "(untitled)")
			line := fmt.Sprintf("%-30s %-8s %s", c.ID, c.Type, title)
			if conversationsUnread && c.UnreadCount > 0 {
				line += fmt.Sprintf("  [%d unread]", c.UnreadCount)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}
