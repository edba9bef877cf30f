package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	URL     string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

func TestNewReadsPrefixedEnvironment(t *testing.T) {
	t.Setenv("SAMPLE_URL", "https://example.com")

	conf, err := New[sampleConfig]("SAMPLE")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.URL != "https://example.com" || conf.Timeout != 5*time.Second {
		t.Fatalf("conf = %+v", conf)
	}
}

func TestOptionalDisabledWhenRequiredMissing(t *testing.T) {
	conf, ok := Optional[sampleConfig]("ABSENT_PREFIX_X")
	if ok || conf != nil {
		t.Fatalf("Optional() = %+v, %v; want nil, false", conf, ok)
	}
}

func TestExportEnvironmentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "FILECONF_URL=https://file.example.com\nFILECONF_TOKEN=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("FILECONF_URL", "")
	t.Setenv("FILECONF_TOKEN", "from-env")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}
	if got := os.Getenv("FILECONF_URL"); got != "https://file.example.com" {
		t.Fatalf("FILECONF_URL = %q", got)
	}
	if got := os.Getenv("FILECONF_TOKEN"); got != "from-env" {
		t.Fatalf("FILECONF_TOKEN = %q, environment should win", got)
	}
}
