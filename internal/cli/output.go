package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Microck/chatgpt-webui-mcp/internal/chatgpt"
)

// Exit codes
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1 // General errors
	ExitCodeUsage   = 2 // Usage errors (invalid command, missing args, etc.)
)

// UsageError represents a usage/input error (exit code 2)
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// NewUsageError creates a new usage error
func NewUsageError(msg string) error {
	return &UsageError{Message: msg}
}

// OutputResult outputs the result as JSON or formatted text
func OutputResult(data interface{}) error {
	if flagJSON {
		return OutputJSON(data)
	}
	return OutputText(data)
}

// OutputJSON outputs data as JSON
func OutputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// OutputText outputs data as human-readable text.
// Each type should implement a TextOutput() string method.
func OutputText(data interface{}) error {
	if t, ok := data.(interface{ TextOutput() string }); ok {
		fmt.Println(t.TextOutput())
		return nil
	}
	// Fallback to JSON
	return OutputJSON(data)
}

// OutputError outputs an error in consistent format
func OutputError(err error) {
	if err == nil {
		return
	}

	if flagJSON {
		OutputJSON(ErrorResponse{
			Error: ErrorDetail{
				Code:    getErrorCode(err),
				Message: err.Error(),
			},
		})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}
}

// GetExitCode returns the appropriate exit code for an error
func GetExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitCodeUsage
	}

	// Cobra usage errors (unknown command, missing args, etc.)
	errMsg := err.Error()
	if strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "unknown flag") ||
		strings.Contains(errMsg, "unknown shorthand flag") ||
		strings.Contains(errMsg, "requires at least") ||
		strings.Contains(errMsg, "accepts at most") ||
		strings.Contains(errMsg, "accepts ") ||
		strings.Contains(errMsg, "invalid argument") {
		return ExitCodeUsage
	}

	return ExitCodeError
}

// ErrorResponse is the standard error format
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func getErrorCode(err error) string {
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return "USAGE_ERROR"
	}

	var cgErr *chatgpt.Error
	if errors.As(err, &cgErr) {
		return strings.ToUpper(string(cgErr.Kind))
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "unknown command") ||
		strings.Contains(errMsg, "unknown flag") ||
		strings.Contains(errMsg, "requires at least") ||
		strings.Contains(errMsg, "accepts at most") {
		return "USAGE_ERROR"
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out") {
		return "TIMEOUT"
	}
	if strings.Contains(errMsg, "invalid") {
		return "INVALID_INPUT"
	}

	return "INTERNAL_ERROR"
}
