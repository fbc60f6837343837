package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ajramos/livegmail/internal/panel"
	"github.com/ajramos/livegmail/internal/reconcile"
	"github.com/rs/zerolog"
)

const clearScreen = "\033[H\033[2J"

// terminal drives a panel from a line-oriented terminal: it redraws on every
// session change and reads commands from in.
type terminal struct {
	panel   *panel.Panel
	session *reconcile.Session
	refresh func()
	width   int
	in      io.Reader
	out     io.Writer
	logger  zerolog.Logger
}

// run redraws until ctx ends, the user quits or done closes.
func (t *terminal) run(ctx context.Context, done <-chan struct{}) error {
	changes, unsubscribe := t.session.Subscribe()
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(t.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	t.panel.OnShow(panel.Rect{})
	t.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			t.draw()
			return nil
		case <-changes:
			t.draw()
		case line := <-lines:
			if quit := t.command(ctx, line); quit {
				return nil
			}
		}
	}
}

func (t *terminal) draw() {
	if !t.panel.Visible() {
		return
	}
	fmt.Fprint(t.out, clearScreen)
	if err := panel.Render(t.out, t.panel.View(), t.width); err != nil {
		t.logger.Warn().Err(err).Msg("render failed")
	}
	fmt.Fprint(t.out, "\n[number] open  [r] refresh  [q] quit\n")
}

func (t *terminal) command(ctx context.Context, line string) bool {
	switch line {
	case "q", "quit":
		return true
	case "r":
		if t.refresh != nil {
			t.refresh()
		}
		return false
	case "":
		t.panel.OnShow(panel.Rect{})
		t.draw()
		return false
	}

	n, err := strconv.Atoi(line)
	rows := t.panel.View().Rows
	if err != nil || n < 1 || n > len(rows) {
		fmt.Fprintf(t.out, "unknown command %q\n", line)
		return false
	}
	if err := t.panel.Click(ctx, rows[n-1].ID); err != nil {
		fmt.Fprintf(t.out, "could not open message: %v\n", err)
		return false
	}
	fmt.Fprintln(t.out, "Opened. Press enter to show the list again.")
	return false
}
