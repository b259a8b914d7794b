package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"invalid log level", func(c *Config) { c.Logging.Level = "INVALID" }, "oneof"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, "oneof"},
		{"api port out of range", func(c *Config) { c.API.Port = 70000 }, "max"},
		{"short jwt secret", func(c *Config) { c.API.JWT.Secret = "short" }, "min"},
		{"unknown device", func(c *Config) { c.Device.Type = "nor" }, "oneof"},
		{"file device without path", func(c *Config) { c.Device.Type = "file" }, "required_if"},
		{"zero blocks", func(c *Config) { c.Device.BlockCount = 0 }, "required"},
		{"unknown snapshot type", func(c *Config) { c.Snapshot.Type = "etcd" }, "oneof"},
		{"bad ratio above one", func(c *Config) { c.Policy.MaxBadBlockRatio = 1.5 }, "lte"},
		{"sample rate above one", func(c *Config) { c.Telemetry.SampleRate = 2 }, "lte"},
		{"journal without dir", func(c *Config) { c.Journal.Dir = "" }, "required_if"},
		{"unknown fault op", func(c *Config) {
			c.Device.Faults = []FaultConfig{{Block: 1, Ops: []string{"explode"}}}
		}, "oneof"},
		{"fault beyond device", func(c *Config) {
			c.Device.Faults = []FaultConfig{{Block: 5000, Ops: []string{"erase"}}}
		}, "beyond block_count"},
		{"faults on file device", func(c *Config) {
			c.Device.Type = "file"
			c.Device.Path = "/tmp/flash.img"
			c.Device.Faults = []FaultConfig{{Block: 1, Ops: []string{"erase"}}}
		}, "only supported by the memory device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
