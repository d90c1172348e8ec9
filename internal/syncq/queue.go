// Package syncq is the CLI's action outbox. Actions that could not reach the
// server are parked here and replayed by `arenactl sync`; replay is safe
// because the server treats a repeated (session, seq) as a duplicate.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type Command struct {
	Variant     string `json:"variant"`
	SessionRef  string `json:"session_ref"`
	ActionSeq   int    `json:"action_seq"`
	InputAction string `json:"input_action"`
	LatencyMS   int64  `json:"latency_ms"`
	ClientTS    int64  `json:"client_ts"`
}

func (c Command) key() string {
	return fmt.Sprintf("%s/%s/%d", c.Variant, c.SessionRef, c.ActionSeq)
}

func (c Command) String() string {
	return fmt.Sprintf("%s %s #%d", c.Variant, c.SessionRef, c.ActionSeq)
}

// Outbox is a JSON file of pending commands.
type Outbox struct {
	path string
}

func Open(dir string) (*Outbox, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("outbox dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Outbox{path: filepath.Join(dir, "outbox.json")}, nil
}

func (o *Outbox) Load() ([]Command, error) {
	raw, err := os.ReadFile(o.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(raw) == 0) {
		return []Command{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode outbox %s: %w", o.path, err)
	}
	return out, nil
}

// Save writes commands in the order the server accepts them: per variant
// and session, ascending seq. An empty list removes the file.
func (o *Outbox) Save(commands []Command) error {
	if len(commands) == 0 {
		if err := os.Remove(o.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	slices.SortStableFunc(commands, func(a, b Command) int {
		if c := strings.Compare(a.Variant, b.Variant); c != 0 {
			return c
		}
		if c := strings.Compare(a.SessionRef, b.SessionRef); c != 0 {
			return c
		}
		return a.ActionSeq - b.ActionSeq
	})
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, o.path)
}

// Push adds cmd unless the same (variant, session, seq) is already queued.
// The first queued input wins.
func (o *Outbox) Push(cmd Command) error {
	commands, err := o.Load()
	if err != nil {
		return err
	}
	if slices.ContainsFunc(commands, func(c Command) bool { return c.key() == cmd.key() }) {
		return nil
	}
	return o.Save(append(commands, cmd))
}

// Report summarises one replay pass.
type Report struct {
	Replayed int
	Refused  []error
	Kept     int
}

// Replay sends every queued command in order. Commands whose send error is
// retryable stay queued; anything else the server refused is dropped and
// reported. A cancelled ctx keeps the unsent tail.
func (o *Outbox) Replay(ctx context.Context, send func(context.Context, Command) error, retryable func(error) bool) (Report, error) {
	queue, err := o.Load()
	if err != nil {
		return Report{}, err
	}
	var rep Report
	remaining := make([]Command, 0, len(queue))
	for i, q := range queue {
		if ctx.Err() != nil {
			remaining = append(remaining, queue[i:]...)
			break
		}
		err := send(ctx, q)
		switch {
		case err == nil:
			rep.Replayed++
		case retryable(err):
			remaining = append(remaining, q)
		default:
			rep.Refused = append(rep.Refused, fmt.Errorf("%s: %w", q, err))
		}
	}
	rep.Kept = len(remaining)
	if err := o.Save(remaining); err != nil {
		return rep, err
	}
	return rep, nil
}
