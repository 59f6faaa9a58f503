package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxCommentLength bounds comment bodies.
const MaxCommentLength = 10000

// Comment is one entry in a task's comment thread.
type Comment struct {
	ID        string    `json:"id" yaml:"id" toml:"id"`
	TaskID    string    `json:"task_id" yaml:"task_id" toml:"task_id"`
	UserID    string    `json:"user_id" yaml:"user_id,omitempty" toml:"user_id,omitempty"`
	Content   string    `json:"content" yaml:"content" toml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at" toml:"created_at"`
}

// CommentInsert is the payload for adding a comment.
type CommentInsert struct {
	TaskID  string `json:"task_id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// Validate checks a comment payload.
func (in *CommentInsert) Validate() error {
	if in.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if n := utf8.RuneCountInString(in.Content); n > MaxCommentLength {
		return fmt.Errorf("content must be %d characters or less (got %d)", MaxCommentLength, n)
	}
	return nil
}
