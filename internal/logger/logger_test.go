package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONWritesStructuredLines(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: "debug", Format: "json", Out: buf})
	log.Debug().Str("account_id", "acc_1").Msg("resolved account")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["account_id"] != "acc_1" || line["message"] != "resolved account" {
		t.Fatalf("unexpected fields: %+v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Fatalf("expected timestamp field in %+v", line)
	}
}

func TestNewConsoleFiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: "warn", Out: buf})
	log.Info().Msg("hidden")
	log.Warn().Msg("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Fatalf("info line should be filtered: %q", output)
	}
	if !strings.Contains(output, "visible") {
		t.Fatalf("expected warn line, got %q", output)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		" error ": zerolog.ErrorLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), New(Options{Format: "json", Out: buf}))
	log := FromContext(ctx)
	log.Info().Msg("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("expected output from context logger, got %q", buf.String())
	}

	nop := FromContext(context.Background())
	if nop.GetLevel() != zerolog.Disabled {
		t.Fatalf("expected disabled logger without context value, got %s", nop.GetLevel())
	}
}
