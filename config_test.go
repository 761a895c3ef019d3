package affinity

import (
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "valid sandbox",
			cfg:     Config{APIKey: "key", Environment: Sandbox},
			wantErr: "",
		},
		{
			name:    "valid live",
			cfg:     Config{APIKey: "key", Environment: Live},
			wantErr: "",
		},
		{
			name:    "missing api key",
			cfg:     Config{Environment: Sandbox},
			wantErr: "api key is required",
		},
		{
			name:    "missing environment",
			cfg:     Config{APIKey: "key"},
			wantErr: "environment is required",
		},
		{
			name:    "unknown environment",
			cfg:     Config{APIKey: "key", Environment: Environment("staging")},
			wantErr: "unknown environment",
		},
		{
			name:    "zero config",
			cfg:     Config{},
			wantErr: "api key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentBaseURLs(t *testing.T) {
	tests := []struct {
		env  Environment
		want string
	}{
		{Sandbox, "http://localhost:5000"},
		{Live, "https://api.affinityml.com"},
	}

	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			if got := environmentBaseURLs[tt.env]; got != tt.want {
				t.Errorf("base URL for %s = %q, want %q", tt.env, got, tt.want)
			}
		})
	}

	if len(environmentBaseURLs) != 2 {
		t.Errorf("environment table has %d entries, want 2", len(environmentBaseURLs))
	}
}

func TestChannelURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{
			name: "sandbox uses plain websocket",
			base: environmentBaseURLs[Sandbox],
			want: "ws://localhost:5000/metrics",
		},
		{
			name: "live uses secure websocket",
			base: environmentBaseURLs[Live],
			want: "wss://api.affinityml.com/metrics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := channelURL(tt.base); got != tt.want {
				t.Errorf("channelURL(%q) = %q, want %q", tt.base, got, tt.want)
			}
		})
	}
}
