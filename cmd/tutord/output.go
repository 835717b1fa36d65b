package main

import (
	"fmt"
	"os"
)

// All status output goes to stderr so stdout stays pipeable: streamed
// tokens and JSON payloads are the only things commands write there.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// applyColorEnv disables color when the NO_COLOR convention asks for
// it (any non-empty value, see no-color.org). Runs after flag parsing
// so --no-color and the environment compose.
func applyColorEnv() {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
}

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// statusLine writes one glyph-prefixed message line.
func statusLine(color, glyph, format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
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

// printStatus renders an indented "Label: value" detail line with the
// label in bold.
func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), val)
}
