package main

import (
	"fmt"
	"os"
)

// ANSI styling for terminal feedback. Status lines go to stderr so
// stdout stays clean for piped answers.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func statusLine(color, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) {
	statusLine(colorGreen, "✓", format, args...)
}

func printError(format string, args ...any) {
	statusLine(colorRed, "✗", format, args...)
}

func printWarning(format string, args ...any) {
	statusLine(colorYellow, "⚠", format, args...)
}

func printStep(format string, args ...any) {
	statusLine(colorCyan, "→", format, args...)
}

// printStatus renders an indented "label: value" line, used for fact
// provenance under an answer.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}
