package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/moka/internal/verifier"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf, RunID: "run-1"}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(ErrCodeMalformed, "malformed input", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMalformed, resp.Error.Code)
	assert.Equal(t, "malformed input", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error(ErrCodeGeneric, "run failed", "index out of range"))
			assert.Contains(t, buf.String(), "Error [E001]: run failed")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: index out of range")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	cause := errors.New("disk full")

	err := formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "write instrumented classes", cause)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitCommandError, exitErr.Code)
	assert.True(t, exitErr.Reported)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, buf.String(), "Error [E005]")
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("loaded %d class(es)", 3)

	assert.Empty(t, out.String())
	assert.Contains(t, diag.String(), "loaded 3 class(es)")
}

func TestOutputFormatter_WriteIssues(t *testing.T) {
	noColor := color.NoColor
	t.Cleanup(func() { color.NoColor = noColor })
	color.NoColor = true

	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	res := &verifier.Result{
		Issues: []verifier.Issue{
			{Severity: verifier.SeverityError, Class: "a/B", Method: "m", Line: 4, Rule: verifier.RuleStaticWrite, PC: 2, Message: "static fields may be written only in <clinit>"},
			{Severity: verifier.SeverityWarning, Class: "a/B", Line: -1, Rule: verifier.RuleStorageFields, PC: -1, Message: "transient field"},
		},
		HasErrors: true,
	}

	formatter.WriteIssues(res)

	out := buf.String()
	assert.Contains(t, out, "a/B.m:4")
	assert.Contains(t, out, verifier.RuleStaticWrite)
	assert.Contains(t, out, "rejected: 1 error(s), 1 warning(s)")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
}
