package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyRegistry = `{"version":"1","models":[
	{"name":"tiny-ner","role":"general","size_bytes":2097152,
	 "labels":["PER","LOC"],"remap":{"PER":"PERSON"},
	 "url":"http://127.0.0.1:1/tiny-ner.tar.gz","checksum":"sha256:abc","recommended":true,
	 "description":"test model","license":"MIT"}]}`

// modelConfig writes a config pointing at a temp registry and models root.
func modelConfig(t *testing.T) (cfgPath, root string) {
	t.Helper()
	return modelConfigWith(t, tinyRegistry)
}

func modelConfigWith(t *testing.T, registryJSON string) (cfgPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "models")
	registry := filepath.Join(dir, "registry.json")
	require.NoError(t, os.WriteFile(registry, []byte(registryJSON), 0o644))
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("models:\n  root: %s\n  registry: %s\n", root, registry)), 0o644))
	return cfgPath, root
}

func installFake(t *testing.T, root, name, checksum string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for f, content := range map[string]string{
		"model.onnx":     "x",
		"tokenizer.json": "{}",
		"labels.json":    `{"0":"O","1":"B-PER"}`,
		".checksum":      checksum + "\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(content), 0o644))
	}
	return dir
}

func TestModelList(t *testing.T) {
	cfg, root := modelConfig(t)
	out, err := run(t, "", "--config", cfg, "model", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "tiny-ner")
	assert.Contains(t, out, "not installed")
	assert.Contains(t, out, "Installed: 0/1 models")

	installFake(t, root, "tiny-ner", "sha256:abc")
	out, err = run(t, "", "--config", cfg, "model", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed: 1/1 models (2 MB)")
}

func TestModelInfo(t *testing.T) {
	cfg, _ := modelConfig(t)
	out, err := run(t, "", "--config", cfg, "model", "info", "tiny-ner")
	require.NoError(t, err)
	assert.Contains(t, out, "Model: tiny-ner")
	assert.Contains(t, out, "Not installed")
	assert.Contains(t, out, "PER, LOC")
	assert.Contains(t, out, "PERSON, LOC")

	_, err = run(t, "", "--config", cfg, "model", "info", "nope")
	assert.ErrorContains(t, err, `model "nope" not found`)
}

func TestModelVerify(t *testing.T) {
	cfg, root := modelConfig(t)
	out, err := run(t, "", "--config", cfg, "model", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "No installed models found")

	installFake(t, root, "tiny-ner", "sha256:stale")
	out, err = run(t, "", "--config", cfg, "model", "verify")
	require.Error(t, err)
	assert.Contains(t, out, "Checksum... ✗")
	assert.Contains(t, out, "Files...    ✓")
}

func TestModelDownload_RequiresName(t *testing.T) {
	cfg, _ := modelConfig(t)
	_, err := run(t, "", "--config", cfg, "model", "download")
	assert.ErrorContains(t, err, "usage")
}

func TestModel_Unpublished(t *testing.T) {
	cfg, _ := modelConfigWith(t, `{"version":"1","models":[
		{"name":"draft-ner","role":"domain","labels":["BANK"],"recommended":true}]}`)

	out, err := run(t, "", "--config", cfg, "model", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "unpublished")
	assert.Contains(t, out, "1 model(s) have no published release")

	out, err = run(t, "", "--config", cfg, "model", "info", "draft-ner")
	require.NoError(t, err)
	assert.Contains(t, out, "Unpublished")

	_, err = run(t, "", "--config", cfg, "model", "download", "draft-ner")
	assert.ErrorContains(t, err, "no published release")

	out, err = run(t, "", "--config", cfg, "model", "download", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Skipping draft-ner")
}

func TestModelList_EmbeddedRegistry(t *testing.T) {
	root := filepath.Join(t.TempDir(), "models")
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf("models:\n  root: %s\n", root)), 0o644))

	out, err := run(t, "", "--config", cfg, "model", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "DATE, MONEY, BANK, ADDRESS")
	assert.Contains(t, out, "2 model(s) have no published release")
}

func TestModelRemove(t *testing.T) {
	cfg, root := modelConfig(t)
	dir := installFake(t, root, "tiny-ner", "sha256:abc")

	out, err := run(t, "n\n", "--config", cfg, "model", "remove", "tiny-ner")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")
	assert.DirExists(t, dir)

	_, err = run(t, "", "--config", cfg, "model", "remove", "--yes", "tiny-ner")
	require.NoError(t, err)
	assert.NoDirExists(t, dir)

	out, err = run(t, "", "--config", cfg, "model", "remove", "tiny-ner")
	require.NoError(t, err)
	assert.Contains(t, out, "not installed")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "0 B", humanBytes(0))
	assert.Equal(t, "2 KB", humanBytes(2048))
	assert.Equal(t, "3 MB", humanBytes(3*1024*1024))
}
