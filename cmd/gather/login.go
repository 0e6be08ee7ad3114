package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	gather "github.com/gather-social/gather-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]

		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		password, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")

		client := getAnonClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Account.Login(ctx, &gather.LoginOptions{
			Username: username,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("login request failed: %w", err)
		}
		if !result.OK {
			if result.Error != nil {
				return fmt.Errorf("login rejected: %s", result.Error.Message)
			}
			return fmt.Errorf("login rejected")
		}

		var data gather.LoginData
		if err := result.Decode(&data); err != nil {
			return fmt.Errorf("failed to decode login response: %w", err)
		}
		if data.Token == "" {
			return fmt.Errorf("login returned no token")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth.Token = data.Token
		cfg.Auth.UserID = data.User.ID
		cfg.Auth.Username = data.User.Username
		if err := saveConfig(cfg); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", data.User.Username, data.User.ID)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value (e.g. default.base_url)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", args[0])
		return nil
	},
}
