package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/lifecycle"
	"github.com/jamesainslie/modlink/pkg/modlink/output"
)

// terminalPrompter asks questions on a terminal. Choices are numbered from
// 1; an empty answer or "q" cancels.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(in), out: out}
}

func (p *terminalPrompter) Ask(ctx context.Context, q lifecycle.Question) (string, error) {
	fmt.Fprintln(p.out, output.SectionStyle.Render(q.Title))
	if q.Message != "" {
		fmt.Fprintln(p.out, q.Message)
	}
	for i, c := range q.Choices {
		fmt.Fprintf(p.out, "  %s %s %s\n",
			output.CountStyle.Render(strconv.Itoa(i+1)),
			c.Label,
			output.MutedStyle.Render("("+c.GameID+")"))
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(p.out, "Choice [1-%d, q to cancel]: ", len(q.Choices))
		line, err := p.in.ReadString('\n')
		answer := strings.TrimSpace(line)
		if err != nil && answer == "" {
			if err == io.EOF {
				return "", nil
			}
			return "", err
		}
		if answer == "" || strings.EqualFold(answer, "q") {
			return "", nil
		}
		n, convErr := strconv.Atoi(answer)
		if convErr == nil && n >= 1 && n <= len(q.Choices) {
			return q.Choices[n-1].GameID, nil
		}
		fmt.Fprintln(p.out, output.WarningStyle.Render("invalid choice: "+answer))
		if err != nil {
			return "", nil
		}
	}
}

// printNotifications writes the notifications buffered on sub to stderr.
func printNotifications(sub *events.Subscriber) {
	for {
		select {
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			if line := formatNotification(e); line != "" {
				fmt.Fprintln(errOut, line)
			}
		default:
			return
		}
	}
}

func formatNotification(e events.Event) string {
	switch e.Kind {
	case events.Notification:
		if quiet && e.Severity == events.SeverityInfo {
			return ""
		}
		style := output.MutedStyle
		switch e.Severity {
		case events.SeverityWarning:
			style = output.WarningStyle
		case events.SeverityError:
			style = output.ErrorStyle
		}
		line := style.Render(e.Severity.String()+": "+e.Title) + " " + e.Message
		if e.Remedy != "" {
			line += output.MutedStyle.Render(" (" + e.Remedy + ")")
		}
		return line
	}
	return ""
}
