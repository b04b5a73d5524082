package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// PlainPrompter asks with a numbered menu on line-oriented input.
// Suitable for pipes, CI, and terminals without cursor control.
//
// A choice may carry a suffix: "2!" remembers it across sessions, "2+"
// for this session only. An empty line dismisses.
type PlainPrompter struct {
	in  io.Reader
	out io.Writer

	// turn serializes prompts so menus never interleave.
	turn  chan struct{}
	once  sync.Once
	lines chan string
}

// NewPlainPrompter creates a plain text prompter.
func NewPlainPrompter(cfg Config) *PlainPrompter {
	return &PlainPrompter{
		in:    cfg.Input,
		out:   cfg.Output,
		turn:  make(chan struct{}, 1),
		lines: make(chan string),
	}
}

// Prompt implements resolution.Prompter.
func (p *PlainPrompter) Prompt(ctx context.Context, c *conflict.Conflict, offered []resolution.Action) (resolution.Resolution, error) {
	select {
	case p.turn <- struct{}{}:
	case <-ctx.Done():
		return resolution.Resolution{}, ctx.Err()
	}
	defer func() { <-p.turn }()
	p.once.Do(p.startReading)

	p.printConflict(c, offered)
	for {
		_, _ = fmt.Fprintf(p.out, "Choice [1-%d, ! always, + this session, empty dismisses]: ", len(offered))
		line, err := p.readLine(ctx)
		if err != nil {
			return resolution.Resolution{}, err
		}
		a, durable, session, ok := parseChoice(line, offered)
		if !ok {
			_, _ = fmt.Fprintf(p.out, "Invalid choice %q\n", strings.TrimSpace(line))
			continue
		}

		res := resolution.Resolution{Action: a}
		if q := argumentPrompt(c, a); q != "" {
			arg, err := p.askArgument(ctx, q, argumentRequired(a))
			if err != nil {
				return resolution.Resolution{}, err
			}
			res.Argument = arg
		}
		if (durable || session) && !a.Rememberable() {
			_, _ = fmt.Fprintln(p.out, "Not remembered: this choice is never applied automatically")
		}
		res.Remember = remember(c, a, durable, session)
		return res, nil
	}
}

func (p *PlainPrompter) printConflict(c *conflict.Conflict, offered []resolution.Action) {
	_, _ = fmt.Fprintf(p.out, "\n[%s] %s\n", strings.ToUpper(c.Severity.String()), c.Path)
	_, _ = fmt.Fprintf(p.out, "  %s\n", c.Summary())
	if c.Cause != "" {
		_, _ = fmt.Fprintf(p.out, "  cause: %s\n", c.Cause)
	}
	for i, a := range offered {
		_, _ = fmt.Fprintf(p.out, "  %d) %s\n", i+1, ActionLabel(a))
	}
}

func (p *PlainPrompter) askArgument(ctx context.Context, question string, required bool) (string, error) {
	for {
		_, _ = fmt.Fprintf(p.out, "%s: ", question)
		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		arg := strings.TrimSpace(line)
		if arg == "" && required {
			_, _ = fmt.Fprintln(p.out, "A path is required")
			continue
		}
		return arg, nil
	}
}

// startReading pumps input lines to the prompt that is waiting for them.
// A line typed while no prompt waits is handed to the next one.
func (p *PlainPrompter) startReading() {
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
	}()
}

func (p *PlainPrompter) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// parseChoice maps a menu answer to an action and its remember flags.
func parseChoice(line string, offered []resolution.Action) (a resolution.Action, durable, session, ok bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return resolution.ActionDismiss, false, false, true
	}
	switch {
	case strings.HasSuffix(s, "!"):
		durable = true
		s = strings.TrimSuffix(s, "!")
	case strings.HasSuffix(s, "+"):
		session = true
		s = strings.TrimSuffix(s, "+")
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > len(offered) {
		return "", false, false, false
	}
	return offered[n-1], durable, session, true
}
