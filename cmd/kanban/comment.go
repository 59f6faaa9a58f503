package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskboard/kanban/internal/cache"
	"github.com/taskboard/kanban/internal/printer"
)

var commentCmd = &cobra.Command{
	Use:     "comment",
	GroupID: "board",
	Short:   "Read and write task comments",
}

// thread loads the comment cache of the task ref resolves to.
func thread(cmd *cobra.Command, ref string) (*cache.CommentCache, error) {
	ctx := cmd.Context()
	s, err := connect(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.resolveTask(ctx, ref)
	if err != nil {
		return nil, err
	}
	cc := cache.NewCommentCache(t.ID, cache.CommentConfig{
		Backend: s.client,
		Notify:  printNotices(cmd.OutOrStdout(), cmd.ErrOrStderr()),
		Logger:  logger.Named("comments"),
	})
	if err := cc.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load comments: %w", err)
	}
	return cc, nil
}

var commentListCmd = &cobra.Command{
	Use:   "list TASK",
	Short: "List a task's comments, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := thread(cmd, args[0])
		if err != nil {
			return err
		}
		printer.Comments(cmd.OutOrStdout(), cc.Comments(), time.Now())
		return nil
	},
}

var commentAddCmd = &cobra.Command{
	Use:   "add TASK [TEXT]",
	Short: "Add a comment (reads stdin when TEXT is omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if len(args) == 2 {
			content = args[1]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read comment: %w", err)
			}
			content = strings.TrimRight(string(data), "\n")
		}

		cc, err := thread(cmd, args[0])
		if err != nil {
			return err
		}
		c, err := cc.Add(cmd.Context(), content)
		if err != nil {
			return err
		}
		printer.Success(cmd.OutOrStdout(), "Comment added (%d on this task)", len(cc.Comments()))
		printer.Info(cmd.OutOrStdout(), "ID: %s", c.ID)
		return nil
	},
}

var commentDeleteCmd = &cobra.Command{
	Use:     "delete TASK COMMENT",
	Aliases: []string{"rm"},
	Short:   "Delete a comment by ID or ID prefix",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := thread(cmd, args[0])
		if err != nil {
			return err
		}
		var matches []string
		for _, c := range cc.Comments() {
			if strings.HasPrefix(c.ID, args[1]) {
				matches = append(matches, c.ID)
			}
		}
		switch len(matches) {
		case 0:
			return fmt.Errorf("no comment matches %q", args[1])
		case 1:
			return cc.Delete(cmd.Context(), matches[0])
		default:
			return fmt.Errorf("comment ID %q is ambiguous (%d matches)", args[1], len(matches))
		}
	},
}

func init() {
	commentCmd.AddCommand(commentListCmd, commentAddCmd, commentDeleteCmd)
	rootCmd.AddCommand(commentCmd)
}
