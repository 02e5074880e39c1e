package object

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Commit holds the fields of a commit object. Author is a free-form
// "Name <email>" identity, used for both author and committer.
type Commit struct {
	Tree    string
	Parent  string
	Author  string
	When    time.Time
	Message string
}

// NewCommit encodes c. Timestamps are always written in UTC ("+0000") and the
// message is terminated by a single newline.
func NewCommit(c Commit) *Object {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	if c.Parent != "" {
		fmt.Fprintf(&buf, "parent %s\n", c.Parent)
	}
	signature := fmt.Sprintf("%s %d +0000", c.Author, c.When.Unix())
	fmt.Fprintf(&buf, "author %s\n", signature)
	fmt.Fprintf(&buf, "committer %s\n", signature)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	buf.WriteByte('\n')
	return &Object{Type: TypeCommit, Data: buf.Bytes()}
}

func ParseCommit(data []byte) (*Commit, error) {
	header, message, ok := strings.Cut(string(data), "\n\n")
	if !ok {
		return nil, fmt.Errorf("invalid commit: missing message separator")
	}

	c := &Commit{Message: strings.TrimSuffix(message, "\n")}
	for _, line := range strings.Split(header, "\n") {
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "tree":
			c.Tree = value
		case "parent":
			c.Parent = value
		case "author":
			author, when, err := parseSignature(value)
			if err != nil {
				return nil, err
			}
			c.Author, c.When = author, when
		}
	}
	if c.Tree == "" {
		return nil, fmt.Errorf("invalid commit: missing tree")
	}
	return c, nil
}

// parseSignature splits "<identity> <epoch> <tz>".
func parseSignature(s string) (string, time.Time, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return "", time.Time{}, fmt.Errorf("invalid signature: %q", s)
	}
	epoch, err := strconv.ParseInt(fields[len(fields)-2], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid signature timestamp: %w", err)
	}
	identity := strings.Join(fields[:len(fields)-2], " ")
	return identity, time.Unix(epoch, 0).UTC(), nil
}
