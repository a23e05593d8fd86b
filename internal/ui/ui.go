package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Green     = lipgloss.Color("#10B981")
	Amber     = lipgloss.Color("#F59E0B")
	Blue      = lipgloss.Color("#3B82F6")
	Red       = lipgloss.Color("#EF4444")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(Green).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(Blue)
	warnStyle    = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	debugStyle   = lipgloss.NewStyle().Foreground(LightGray)
	titleStyle   = lipgloss.NewStyle().Foreground(White).Bold(true).Underline(true)
	labelStyle   = lipgloss.NewStyle().Foreground(LightGray)
)

// Output receives all terminal output. Tests swap it for a buffer.
var Output io.Writer = os.Stdout

func printStyled(style lipgloss.Style, format string, a ...any) {
	fmt.Fprintln(Output, style.Render(fmt.Sprintf(format, a...)))
}

func Success(format string, a ...any) { printStyled(successStyle, format, a...) }
func Info(format string, a ...any)    { printStyled(infoStyle, format, a...) }
func Warn(format string, a ...any)    { printStyled(warnStyle, format, a...) }
func Error(format string, a ...any)   { printStyled(errorStyle, format, a...) }
func Debug(format string, a ...any)   { printStyled(debugStyle, format, a...) }

func Section(title string, textLines []string) {
	fmt.Fprintln(Output, titleStyle.Render(title))
	for _, line := range textLines {
		fmt.Fprintln(Output, "  "+line)
	}
}

// Field renders "label: value" with a dimmed label.
func Field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

// Table renders rows as aligned columns, header first.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			pad := 0
			if i < len(widths) {
				pad = widths[i] - lipgloss.Width(cell)
			}
			if style != nil {
				cell = style.Render(cell)
			}
			parts[i] = cell + strings.Repeat(" ", pad)
		}
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
		b.WriteString("\n")
	}
	writeRow(header, &labelStyle)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}
