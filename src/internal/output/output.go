// Package output provides consistent console formatting for gatewayctl commands.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Format selects how command results are rendered.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSON    Format = "json"
)

// ANSI color codes.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
)

var (
	formatMu      sync.RWMutex
	currentFormat = FormatDefault

	printer = message.NewPrinter(language.English)
)

// SetFormat sets the global output format. Empty means default.
func SetFormat(format string) error {
	f := Format(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = FormatDefault
	}
	if f != FormatDefault && f != FormatJSON {
		return fmt.Errorf("invalid output format %q (must be '%s' or '%s')", format, FormatDefault, FormatJSON)
	}
	formatMu.Lock()
	currentFormat = f
	formatMu.Unlock()
	return nil
}

// GetFormat returns the current output format.
func GetFormat() Format {
	formatMu.RLock()
	defer formatMu.RUnlock()
	return currentFormat
}

// IsJSON reports whether JSON output is selected.
func IsJSON() bool {
	return GetFormat() == FormatJSON
}

// PrintJSON writes v to stdout as indented JSON. HTML characters in URLs
// and commands are left unescaped.
func PrintJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}

// PrintDefault runs formatter only in default mode.
func PrintDefault(formatter func()) {
	if IsJSON() {
		return
	}
	formatter()
}

// Print renders v as JSON in JSON mode, otherwise calls formatter.
func Print(v any, formatter func()) error {
	if IsJSON() {
		return PrintJSON(v)
	}
	formatter()
	return nil
}

// Section prints an icon-prefixed section title.
func Section(icon string, text string) {
	fmt.Fprintf(os.Stdout, "\n%s %s%s%s\n", icon, Bold, text, Reset)
}

// Success prints a green check message.
func Success(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s✓%s %s\n", Green, Reset, fmt.Sprintf(format, args...))
}

// Error prints a red cross message.
func Error(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s✗%s %s\n", Red, Reset, fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning message.
func Warning(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s⚠%s  %s\n", Yellow, Reset, fmt.Sprintf(format, args...))
}

// Info prints a plain message.
func Info(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "%s\n", fmt.Sprintf(format, args...))
}

// Item prints an indented bullet.
func Item(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "   • %s\n", fmt.Sprintf(format, args...))
}

// ItemSuccess prints an indented success bullet.
func ItemSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stdout, "   %s✓%s %s\n", Green, Reset, fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func Newline() {
	fmt.Fprintln(os.Stdout)
}

// Label prints an aligned "label: value" pair.
func Label(label string, value string) {
	fmt.Fprintf(os.Stdout, "   %s%-12s%s %s\n", Gray, label+":", Reset, value)
}

// Highlight returns text in cyan.
func Highlight(format string, args ...any) string {
	return Cyan + fmt.Sprintf(format, args...) + Reset
}

// Emphasize returns text in bold.
func Emphasize(format string, args ...any) string {
	return Bold + fmt.Sprintf(format, args...) + Reset
}

// Muted returns text in gray.
func Muted(format string, args ...any) string {
	return Gray + fmt.Sprintf(format, args...) + Reset
}

// URL returns a highlighted URL.
func URL(url string) string {
	return Blue + url + Reset
}

// Count formats n with thousands separators.
func Count(n int) string {
	return printer.Sprintf("%d", n)
}
