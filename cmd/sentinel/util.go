package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hpcops/sentinel/internal/mailer"
	"github.com/hpcops/sentinel/internal/sshutil"
)

func sendMailCmd() *cobra.Command {
	var (
		to      []string
		subject string
		body    string
	)

	cmd := &cobra.Command{
		Use:   "send-mail",
		Short: "Send a plain-text mail through the configured relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := body
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read body from stdin: %w", err)
				}
				text = string(data)
			}
			return mailer.New(cfg.Mail, dryRun).SendText(to, subject, text)
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "Recipient addresses")
	cmd.Flags().StringVar(&subject, "subject", "", "Mail subject")
	cmd.Flags().StringVar(&body, "body", "", "Mail body (default: read from stdin)")
	cmd.MarkFlagRequired("to")
	return cmd
}

func sshRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh-run <host> <command>...",
		Short: "Run commands on a remote host, printing each command's output",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := sshutil.Connect(args[0], cfg.SSH, os.Getenv("SENTINEL_SSH_PASSWORD"))
			if err != nil {
				return err
			}
			defer client.Close()

			overall, results, err := client.RunCommands(args[1:])
			for _, res := range results {
				fmt.Printf("$ %s (exit %d)\n%s", res.Command, res.ExitCode, res.Output)
			}
			if err != nil {
				return err
			}
			if overall != 0 {
				return fmt.Errorf("remote commands finished with status %d", overall)
			}
			return nil
		},
	}
}
