package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/assistant-relay/internal/attachment"
	"github.com/suPer8Hu/assistant-relay/internal/client"
)

var (
	sendConversation string
	sendThread       string
	sendFiles        []string
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message and stream the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// files are checked before anything goes over the wire
		local, err := client.ValidateFiles(sendFiles)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		refs := make([]attachment.File, 0, len(local))
		for _, lf := range local {
			f, err := c.Upload(ctx, lf)
			if err != nil {
				return fmt.Errorf("upload %s: %w", lf.Name, err)
			}
			refs = append(refs, f)
		}

		var tr client.Transcript
		out := cmd.OutOrStdout()
		reply, err := c.Send(ctx, &tr, client.SendRequest{
			Message:        strings.Join(args, " "),
			ThreadID:       sendThread,
			ConversationID: sendConversation,
			Files:          refs,
		}, func(delta string) {
			fmt.Fprint(out, delta)
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		if sendConversation == "" {
			fmt.Fprintf(os.Stderr, "thread: %s\n", reply.ThreadID)
		}
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Validate and upload files, printing their references",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := client.ValidateFiles(args)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		for _, lf := range local {
			f, err := c.Upload(cmd.Context(), lf)
			if err != nil {
				return fmt.Errorf("upload %s: %w", lf.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n", f.Name, f.Type, f.Size, f.URL)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "conversation id")
	sendCmd.Flags().StringVar(&sendThread, "thread", "", "upstream thread id to continue")
	sendCmd.Flags().StringSliceVarP(&sendFiles, "file", "f", nil, "attach a file (repeatable, max 5)")
}
