// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	prev := GetLevel()
	SetOutput(buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(prev)
	})
	return buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
		ok    bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"Warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"fatal", LevelFatal, true},
		{"verbose", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelWarn)

	l := New("onset")
	l.Debugf("dropped %d", 1)
	l.Infof("dropped %d", 2)
	l.Warnf("kept %d", 3)
	Errorf("kept %d", 4)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("messages below the level were logged: %q", out)
	}
	if !strings.Contains(out, "[WARN]  onset: kept 3") {
		t.Errorf("missing tagged warning in %q", out)
	}
	if !strings.Contains(out, "[ERROR] kept 4") {
		t.Errorf("missing untagged error in %q", out)
	}
}

func TestLevelString(t *testing.T) {
	if LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("unexpected name for unknown level: %s", LogLevel(42))
	}
}
