package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitRetryable, GetExitCode(WrapExitError(ExitRetryable, "push", errors.New("down"))))
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitFailure, "reset", errors.New("unbound"))
	assert.Equal(t, "reset: unbound", err.Error())
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestOutputFormatter_Amount(t *testing.T) {
	f := NewOutputFormatter("text", &bytes.Buffer{}, "en")
	assert.Equal(t, "1,234,567.89", f.Amount(decimal.RequireFromString("1234567.891")))
	assert.Equal(t, "0.50", f.Amount(decimal.RequireFromString("0.5")))
}

func TestOutputFormatter_Field(t *testing.T) {
	var buf bytes.Buffer
	f := NewOutputFormatter("text", &buf, "not-a-language")
	f.Field("balance", "1.00")
	assert.Equal(t, "balance:           1.00\n", buf.String())
}
