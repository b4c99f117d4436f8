package main

import (
	"testing"

	"github.com/any-hub/pkg-restore/internal/config"
)

func TestWorkerArgsSplitsRequestRate(t *testing.T) {
	cfg := &config.Config{Global: config.GlobalConfig{
		RepositoryURL:     "https://repo.example.com/nuget",
		CachePath:         "/var/cache/packages",
		Layout:            "artifactory",
		Workers:           4,
		LogLevel:          "info",
		RequestsPerSecond: 12,
	}}

	cases := []struct {
		children int
		want     string
	}{
		{children: 0, want: "12"},
		{children: 1, want: "12"},
		{children: 3, want: "4"},
		{children: 8, want: "1.5"},
	}
	for _, tc := range cases {
		args := workerArgs("", cfg, tc.children)
		if got := flagValue(args, "--requests-per-second"); got != tc.want {
			t.Fatalf("children=%d: rate %q, want %q (args %v)", tc.children, got, tc.want, args)
		}
	}
}

func TestWorkerArgsOmitsRateWhenUnlimited(t *testing.T) {
	cfg := &config.Config{Global: config.GlobalConfig{
		RepositoryURL: "https://repo.example.com/nuget",
		CachePath:     "/var/cache/packages",
		StagingPath:   "/var/cache/out",
	}}
	args := workerArgs("pkg-restore.toml", cfg, 4)
	if got := flagValue(args, "--requests-per-second"); got != "" {
		t.Fatalf("unlimited rate should not be forwarded, got %q", got)
	}
	if flagValue(args, "--config") != "pkg-restore.toml" || flagValue(args, "--output") != "/var/cache/out" {
		t.Fatalf("config and staging path should be forwarded: %v", args)
	}
}

func flagValue(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}
