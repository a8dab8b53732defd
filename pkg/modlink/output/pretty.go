package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// PrettyFormatter renders a report for terminal display using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")

	w.WriteString(f.formatDirectories(r))
	if len(r.Mods) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatMods(r))
	}
	if len(r.History) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatHistory(r))
	}

	w.WriteString(f.formatFooter(r))

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("%s %s", LabelStyle.Render("Game:"), ValueStyle.Render(r.GameName)))

	method := r.Method
	if method == "" {
		method = "none"
	}
	info := []string{fmt.Sprintf("%s %s", LabelStyle.Render("Method:"), ValueStyle.Render(method))}
	if r.Necessary {
		info = append(info, WarningStyle.Render("deployment necessary"))
	} else {
		info = append(info, SuccessStyle.Render("up to date"))
	}
	if r.DaemonUp {
		info = append(info, SuccessStyle.Render("daemon: watching"))
	} else {
		info = append(info, MutedStyle.Render("daemon: off"))
	}
	lines = append(lines, strings.Join(info, "  "))

	if r.StagingPath != "" {
		lines = append(lines, fmt.Sprintf("%s %s", LabelStyle.Render("Staging:"), PathStyle.Render(r.StagingPath)))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatDirectories(r *Report) string {
	if len(r.Directories) == 0 {
		return MutedStyle.Render("  Nothing deployed\n")
	}

	var sb strings.Builder
	sb.WriteString(SectionStyle.Render("Directories"))
	sb.WriteString("\n")
	for _, d := range r.Directories {
		modType := d.ModType
		if modType == "" {
			modType = "default"
		}
		status := MutedStyle.Render(d.Updated)
		switch {
		case d.Blocked:
			status = ErrorStyle.Render("blocked")
		case d.Foreign:
			status = WarningStyle.Render("foreign")
		}
		fmt.Fprintf(&sb, "  %s  %s  %s  %s  %s\n",
			CountStyle.Render(padLeft(humanize.Comma(int64(d.Files)), 7)),
			LabelStyle.Render(padRight(modType, 10)),
			ValueStyle.Render(padRight(d.Method, 9)),
			PathStyle.Render(d.DataPath),
			status)
		for _, e := range d.Entries {
			fmt.Fprintf(&sb, "           %s %s\n", PathStyle.Render(e.RelPath), MutedStyle.Render("("+e.Source+")"))
		}
	}
	return sb.String()
}

func (f *PrettyFormatter) formatMods(r *Report) string {
	var sb strings.Builder
	sb.WriteString(SectionStyle.Render("Mods"))
	sb.WriteString("\n")
	width := 0
	for _, m := range r.Mods {
		width = max(width, lipgloss.Width(m.Name))
	}
	for _, m := range r.Mods {
		mark := MutedStyle.Render("[ ]")
		if m.Enabled {
			mark = SuccessStyle.Render("[x]")
		}
		state := MutedStyle.Render(m.State)
		if m.State != "installed" {
			state = WarningStyle.Render(m.State)
		}
		fmt.Fprintf(&sb, "  %s %s  %s  %s\n", mark, ValueStyle.Render(padRight(m.Name, width)),
			CountStyle.Render(padLeft(fmt.Sprintf("%d files", m.Deployed), 9)), state)
	}
	return sb.String()
}

func (f *PrettyFormatter) formatHistory(r *Report) string {
	var sb strings.Builder
	sb.WriteString(SectionStyle.Render("History"))
	sb.WriteString("\n")
	for _, h := range r.History {
		result := SuccessStyle.Render(fmt.Sprintf("+%d -%d", h.Added, h.Removed))
		if h.Error != "" {
			result = ErrorStyle.Render(h.Error)
		}
		fmt.Fprintf(&sb, "  %s  %s  %s  %s\n",
			MutedStyle.Render(padRight(h.Age, 16)),
			ValueStyle.Render(padRight(h.Operation, 8)),
			PathStyle.Render(h.DataPath),
			result)
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Report) string {
	enabled := 0
	for _, m := range r.Mods {
		if m.Enabled {
			enabled++
		}
	}
	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Files:"), CountStyle.Render(humanize.Comma(int64(r.TotalFiles())))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Enabled:"), CountStyle.Render(fmt.Sprintf("%d/%d", enabled, len(r.Mods)))),
		MutedStyle.Render("Use -o json for machine-readable output"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func padLeft(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

var _ Formatter = (*PrettyFormatter)(nil)
