package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/any-hub/pkg-restore/internal/identity"
)

func TestReadSDKProject(t *testing.T) {
	path := filepath.Join("testdata", "App.csproj")
	records, err := Read(path)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	want := []identity.Record{
		{Name: "Newtonsoft.Json", Version: "13.0.1", Source: path},
		{Name: "Serilog", Version: "3.1.1", Source: path},
		{Name: "Broken", Version: "", Source: path},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReadNamespacedProject(t *testing.T) {
	records, err := Read(filepath.Join("testdata", "Legacy.csproj"))
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(records) != 2 || records[1].Name != "Dapper" || records[1].Version != "2.1.24" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestReadPackagesConfig(t *testing.T) {
	records, err := Read(filepath.Join("testdata", "packages.config"))
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(records) != 2 || records[0].Name != "NUnit" || records[0].Version != "3.14.0" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestReadYAMLManifest(t *testing.T) {
	records, err := Read(filepath.Join("testdata", "tools.packages.yaml"))
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(records) != 2 || records[0].Name != "Cake.Tool" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestReadMalformedProject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Bad.csproj")
	data, err := os.ReadFile(filepath.Join("testdata", "Truncated.csproj.bad"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err = Read(path)
	var mErr *Error
	if !errors.As(err, &mErr) {
		t.Fatalf("expected *manifest.Error, got %v", err)
	}
	if mErr.Path != path {
		t.Fatalf("error should carry path, got %s", mErr.Path)
	}
}

func TestDiscoverDirectory(t *testing.T) {
	found, err := Discover("testdata")
	if err != nil {
		t.Fatalf("discover error: %v", err)
	}
	want := []string{
		filepath.Join("testdata", "App.csproj"),
		filepath.Join("testdata", "Legacy.csproj"),
		filepath.Join("testdata", "packages.config"),
		filepath.Join("testdata", "tools.packages.yaml"),
	}
	if diff := cmp.Diff(want, found); diff != "" {
		t.Fatalf("discover mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverSingleFile(t *testing.T) {
	found, err := Discover(filepath.Join("testdata", "App.csproj"))
	if err != nil || len(found) != 1 {
		t.Fatalf("expected the file itself, got %v (%v)", found, err)
	}
	if _, err := Discover(filepath.Join("testdata", "README.md")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
