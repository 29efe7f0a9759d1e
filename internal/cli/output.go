package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
	// ExitRetryable means the local change stands but the remote store has
	// not acknowledged it yet; running the command again is safe.
	ExitRetryable = 3
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as JSON or as localized text.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	printer *message.Printer
}

func NewOutputFormatter(format string, w io.Writer, lang string) *OutputFormatter {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	return &OutputFormatter{Format: format, Writer: w, printer: message.NewPrinter(tag)}
}

// JSON reports whether output should be JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

func (f *OutputFormatter) WriteJSON(v interface{}) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Field writes one aligned "label: value" line.
func (f *OutputFormatter) Field(label string, value interface{}) {
	f.printer.Fprintf(f.Writer, "%-18s %v\n", label+":", value)
}

// Amount formats a decimal with two places and locale digit grouping.
func (f *OutputFormatter) Amount(d decimal.Decimal) string {
	v, _ := d.Round(2).Float64()
	return f.printer.Sprintf("%.2f", v)
}
