package main

import (
	"context"
	"fmt"
	"time"

	gather "github.com/gather-social/gather-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Configuration:")
		fmt.Fprintf(cmd.OutOrStdout(), "  Base URL:     %s\n", valueOrDefault(cfg.Default.BaseURL, gather.DefaultBaseURL))
		fmt.Fprintf(cmd.OutOrStdout(), "  Conversation: %s\n", valueOrDefault(cfg.Default.Conversation, "(not set)"))

		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Auth:")
		if cfg.Auth.Token == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "  Token:        (not logged in)")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  Username:     %s\n", valueOrDefault(cfg.Auth.Username, "(unknown)"))
		fmt.Fprintf(cmd.OutOrStdout(), "  Token:        %s\n", maskToken(cfg.Auth.Token))

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Account.Me(ctx)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  Backend:      unreachable (%v)\n", err)
			return nil
		}
		if !result.OK {
			fmt.Fprintln(cmd.OutOrStdout(), "  Backend:      token rejected")
			return nil
		}
		var user gather.User
		if err := result.Decode(&user); err != nil {
			return fmt.Errorf("failed to decode account info: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  Backend:      ok (%s)\n", user.ID)
		return nil
	},
}
