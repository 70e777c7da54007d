package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/assistant-relay/internal/client"
)

var historyLimit int

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		list, err := c.Conversations(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tASSISTANT\tLAST MESSAGE")
		for _, conv := range list {
			last := "-"
			if conv.LastMessageAt != nil {
				last = conv.LastMessageAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", conv.ID, conv.Title, conv.AssistantID, last)
		}
		return tw.Flush()
	},
}

var newConversationCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a conversation with the active assistant",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		conv, err := c.CreateConversation(cmd.Context(), title)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print the persisted messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		recs, err := c.Messages(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return err
		}
		var tr client.Transcript
		// pages arrive newest first
		for i := len(recs) - 1; i >= 0; i-- {
			tr.Reconcile(recs[i : i+1])
		}
		for _, e := range tr.Entries() {
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", e.Role, e.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "number of messages")
	conversationsCmd.AddCommand(newConversationCmd, historyCmd)
}
