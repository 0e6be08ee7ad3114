package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gather "github.com/gather-social/gather-go"
	"github.com/spf13/cobra"
)

var chatPageSize int

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().IntVar(&chatPageSize, "page-size", 50, "history page size for /more")
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Open a conversation with a live-synced tail",
	Long: "Open a conversation: new messages stream in live, your lines are sent\n" +
		"optimistically, '/more' pages older history, '/quit' exits.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conversationID := cfg.Default.Conversation
		if len(args) > 0 {
			conversationID = args[0]
		}
		if conversationID == "" {
			return fmt.Errorf("no conversation id (pass one or set default.conversation)")
		}

		client := getClient()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		senderID, err := client.SenderID(ctx)
		if err != nil {
			return fmt.Errorf("cannot resolve own identity: %w", err)
		}

		feed := client.Realtime.OpenFeed(&gather.FeedConfig{AutoReconnect: true})
		engine := gather.NewConversationEngine(conversationID, senderID, client.Chat, feed, &gather.EngineOptions{
			PageSize: chatPageSize,
		})
		defer engine.Close()

		printer := &chatPrinter{cmd: cmd, selfID: senderID}
		engine.Store().Subscribe(printer.render)
		engine.OnSubscriptionError(func(err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "! subscription: %v\n", err)
		})
		engine.OnDeliveryUncertain(func(m gather.Message) {
			fmt.Fprintf(cmd.ErrOrStderr(), "! delivery uncertain: %q\n", m.Content)
		})

		if err := engine.Open(ctx); err != nil {
			return fmt.Errorf("cannot open subscription: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s as %s. '/more' for history, '/quit' to exit.\n",
			conversationID, senderID)

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			case line == "/more":
				loadCtx, loadCancel := context.WithTimeout(ctx, 15*time.Second)
				hasMore, err := engine.LoadMore(loadCtx)
				loadCancel()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", err)
					continue
				}
				if !hasMore {
					fmt.Fprintln(cmd.OutOrStdout(), "(beginning of conversation)")
				}
			default:
				sendCtx, sendCancel := context.WithTimeout(ctx, 15*time.Second)
				err := engine.Send(sendCtx, line)
				sendCancel()
				if err != nil {
					var sendErr *gather.SendError
					if errors.As(err, &sendErr) {
						fmt.Fprintf(cmd.ErrOrStderr(), "! not sent, try again: %q\n", sendErr.Content)
					} else {
						fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", err)
					}
				}
			}
		}
		return scanner.Err()
	},
}

// chatPrinter prints each message once and marks the pending -> confirmed
// transition, diffing store states by message id.
type chatPrinter struct {
	cmd    *cobra.Command
	selfID string

	mu   sync.Mutex
	seen map[string]gather.MessageStatus
}

func (p *chatPrinter) render(messages []gather.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]gather.MessageStatus)
	}

	for _, m := range messages {
		prev, ok := p.seen[m.ID]
		if ok && prev == m.Status {
			continue
		}
		p.seen[m.ID] = m.Status

		// A confirmation replaces the temp id; suppress the reprint when the
		// same token was already shown as pending.
		if !ok && m.Status == gather.StatusConfirmed && m.ClientToken != "" {
			if _, shown := p.seen[m.ClientToken]; shown {
				delete(p.seen, m.ClientToken)
				continue
			}
		}
		if ok {
			continue // status change on an already-printed line
		}

		who := m.SenderID
		if m.SenderID == p.selfID {
			who = "you"
		}
		marker := ""
		switch m.Status {
		case gather.StatusPending:
			marker = " …"
		case gather.StatusFailed:
			marker = " ?"
		}
		ts := ""
		if m.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339Nano, m.CreatedAt); err == nil {
				ts = t.Local().Format("15:04") + " "
			}
		}
		fmt.Fprintf(p.cmd.OutOrStdout(), "%s%s: %s%s\n", ts, who, m.Content, marker)
	}
}
