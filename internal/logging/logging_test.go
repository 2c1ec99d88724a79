package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	if c.Level != "info" || c.Format != "console" || c.Output != "stderr" {
		t.Errorf("defaults = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidateRejectsUnknown(t *testing.T) {
	c := Config{Level: "loud", Format: "json"}
	if err := c.Validate(); err == nil {
		t.Error("expected error for unknown level")
	}
	c = Config{Level: "info", Format: "xml"}
	if err := c.Validate(); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := Component(zerolog.New(&buf), "decoder")
	l.Info().Msg("hello")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if m[FieldComponent] != "decoder" {
		t.Errorf("component = %v, want decoder", m[FieldComponent])
	}
}
