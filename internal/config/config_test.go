package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: "docsearch"
databases:
  milvus:
    address: "localhost:19530"
    collection: "chunks"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Ingestion.BatchSize != 50 {
		t.Errorf("BatchSize default = %d, want 50", cfg.Ingestion.BatchSize)
	}
	if cfg.Ingestion.Concurrency != 1 {
		t.Errorf("Concurrency default = %d, want 1", cfg.Ingestion.Concurrency)
	}
	if cfg.Databases.Milvus.Dim != 3072 {
		t.Errorf("Dim default = %d, want 3072", cfg.Databases.Milvus.Dim)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Server address default = %q", cfg.Server.Address)
	}
	if len(cfg.Ingestion.ExcludeTypes) == 0 {
		t.Error("ExcludeTypes default missing")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTimeoutParsing(t *testing.T) {
	if d := Timeout("45s", time.Minute); d != 45*time.Second {
		t.Errorf("Timeout(45s) = %v", d)
	}
	if d := Timeout("", time.Minute); d != time.Minute {
		t.Errorf("empty value must fall back, got %v", d)
	}
	if d := Timeout("garbage", time.Minute); d != time.Minute {
		t.Errorf("unparsable value must fall back, got %v", d)
	}
}
