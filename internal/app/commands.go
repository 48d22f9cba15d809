package app

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/session"
)

const help = "commands: select N | bingo | state | quit"

// readLines feeds input lines to the game loop. The reader goroutine may stay
// blocked in Read after the game ends; that only matters for stdin, which
// lives as long as the process.
func (a *App) readLines(ctx context.Context) <-chan string {
	if a.in == nil {
		return nil
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Debug("input closed", zap.Error(err))
		}
	}()
	return lines
}

// command runs one input line against s and reports whether the user quit.
func (a *App) command(ctx context.Context, s *session.Session, line string) bool {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "select", "s":
		if len(fields) != 2 {
			fmt.Fprintln(a.out, "usage: select N")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintf(a.out, "not a number: %q\n", fields[1])
			return false
		}
		if err := s.SelectNumber(ctx, n); err != nil {
			fmt.Fprintf(a.out, "cannot select %d: %v\n", n, err)
		}

	case "bingo", "b":
		if err := s.ClaimBingo(ctx); err != nil {
			fmt.Fprintf(a.out, "cannot claim: %v\n", err)
		}

	case "state":
		v, err := s.State(ctx)
		if err != nil {
			fmt.Fprintf(a.out, "no state: %v\n", err)
			return false
		}
		fmt.Fprint(a.out, render(v.State))

	case "quit", "q", "exit":
		return true

	default:
		fmt.Fprintln(a.out, help)
	}
	return false
}

// render prints the card with marked cells in brackets, followed by the
// drawn numbers.
func render(s engine.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "game %s (%s)\n", s.GameID, s.Status)
	if s.Card != nil {
		for _, row := range s.Card.Numbers {
			for i, n := range row {
				if i > 0 {
					b.WriteByte(' ')
				}
				cell := strconv.Itoa(n)
				if n == engine.Wild {
					cell = "FREE"
				}
				if engine.IsMarked(s, n) {
					cell = "[" + cell + "]"
				}
				fmt.Fprintf(&b, "%6s", cell)
			}
			b.WriteByte('\n')
		}
	}
	if s.CurrentNumber != nil {
		fmt.Fprintf(&b, "current: %d\n", *s.CurrentNumber)
	}
	fmt.Fprintf(&b, "drawn: %v\n", s.DrawnNumbers)
	if s.Disqualified {
		b.WriteString("you are disqualified\n")
	}
	return b.String()
}
