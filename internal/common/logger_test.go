package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityDebug, "DEBUG"},
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityError, "ERROR"},
		{Severity(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.severity.String()
			if got != tt.expected {
				t.Errorf("Severity.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStdLogger_Log(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewStdLoggerWithWriter(&stdout, &stderr, SeverityDebug)

	tests := []struct {
		name     string
		severity Severity
		message  string
		checkOut bool // true for stdout, false for stderr
	}{
		{"Debug", SeverityDebug, "debug message", true},
		{"Info", SeverityInfo, "info message", true},
		{"Warning", SeverityWarning, "warning message", true},
		{"Error", SeverityError, "error message", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout.Reset()
			stderr.Reset()

			logger.Log(tt.severity, tt.message)

			var output string
			if tt.checkOut {
				output = stdout.String()
			} else {
				output = stderr.String()
			}

			if !strings.Contains(output, tt.message) {
				t.Errorf("Log output should contain %q, got: %s", tt.message, output)
			}
			if !strings.Contains(output, tt.severity.String()) {
				t.Errorf("Log output should contain severity %q, got: %s", tt.severity.String(), output)
			}
		})
	}
}

func TestStdLogger_Error(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewStdLoggerWithWriter(&stdout, &stderr, SeverityInfo)

	logger.Error(errors.New("test error"))
	if !strings.Contains(stderr.String(), "test error") {
		t.Errorf("Error output should contain error message, got: %s", stderr.String())
	}

	stderr.Reset()
	logger.Error(nil)
	if stderr.Len() != 0 {
		t.Errorf("Error(nil) should not log anything, got: %s", stderr.String())
	}
}

func TestStdLogger_MinLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewStdLoggerWithWriter(&stdout, &stderr, SeverityWarning)

	logger.Debug("debug message")
	logger.Info("info message")
	if stdout.Len() != 0 {
		t.Errorf("Debug and Info should not be logged when minLevel is Warning, got: %s", stdout.String())
	}

	logger.Warning("warning message")
	if !strings.Contains(stdout.String(), "warning message") {
		t.Errorf("Warning should be logged, got: %s", stdout.String())
	}
	if logger.MinLevel() != SeverityWarning {
		t.Errorf("MinLevel = %v", logger.MinLevel())
	}
}

func TestStdLogger_Colour(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewStdLoggerWithWriter(&stdout, &stderr, SeverityDebug)
	logger.SetColour(true)

	logger.Warning("careful")
	if !strings.Contains(stdout.String(), "\033[33mcareful"+colourReset) {
		t.Errorf("warning should be coloured, got %q", stdout.String())
	}

	stdout.Reset()
	logger.Info("plain")
	if strings.Contains(stdout.String(), "\033[") {
		t.Errorf("info should not be coloured, got %q", stdout.String())
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	logger.Log(SeverityInfo, "test")
	logger.Logf(SeverityInfo, "test %s", "formatted")
	logger.Error(errors.New("test error"))
	logger.Debug("debug")
	logger.Info("info")
	logger.Warning("warning")
}
