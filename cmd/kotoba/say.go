package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/bdobrica/kotoba/internal/kotoba/app"
	"github.com/bdobrica/kotoba/internal/kotoba/pipeline"
)

func (c *cli) sayCmd() *cobra.Command {
	var (
		user string
		tags []string
	)
	cmd := &cobra.Command{
		Use:   "say [utterance...]",
		Short: "Process utterances and print each result as JSON",
		Long: `Process one utterance given as arguments, or one utterance per line read
from stdin when no arguments are given. Each result is printed as one JSON
object per line. Learning and memory are persisted like any other turn.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					c.logger.Warn("flush failed", "err", err)
				}
			}()

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return say(cmd, a, out, strings.Join(args, " "), user, tags)
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if err := say(cmd, a, out, line, user, tags); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "cli", "user the turns belong to")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "session tag; repeat or comma-separate")
	return cmd
}

func say(cmd *cobra.Command, a *app.App, out io.Writer, text, user string, tags []string) error {
	res := a.Engine().Process(cmd.Context(), pipeline.Turn{
		Text:        text,
		UserID:      user,
		SessionTags: tags,
	})
	line, err := sonic.MarshalString(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(out, line)
	return err
}
