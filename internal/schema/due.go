package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDueDate accepts RFC3339, a bare 2006-01-02 date (midnight UTC), or an
// English phrase such as "next friday" or "in 3 days" relative to now.
// The empty string and "none" mean no due date.
func ParseDueDate(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}

	r, err := dueParser.Parse(s, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("unrecognised due date %q", s)
	}
	t := r.Time.UTC()
	return &t, nil
}
