package main

import (
	"fmt"
	"os"

	gather "github.com/gather-social/gather-go"
)

// getClient creates a Gather client authenticated with the stored token.
func getClient() *gather.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'gather login <username>' first.")
		os.Exit(1)
	}

	var opts []gather.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, gather.WithBaseURL(cfg.Default.BaseURL))
	}
	return gather.NewClient(cfg.Auth.Token, opts...)
}

// getAnonClient creates an unauthenticated client for the login flow.
func getAnonClient() *gather.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	var opts []gather.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, gather.WithBaseURL(cfg.Default.BaseURL))
	}
	return gather.NewClient("", opts...)
}

// valueOrDefault returns value, or fallback when value is empty.
func valueOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// maskToken shortens a token for display.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
