package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piiguard/internal/detect"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func missingConfig(t *testing.T) string {
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestPredict_Remote(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotText = body["text"]
		_, _ = w.Write([]byte(`{"pii":[{"label":"EMAIL","word":"a@b.co","score":1,"position":[[5,11]]}]}`))
	}))
	defer srv.Close()

	out, err := run(t, "Mail a@b.co\n", "predict", "--server", srv.URL, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "Mail a@b.co", gotText)

	var got struct {
		PII []detect.Entity `json:"pii"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.PII, 1)
	assert.Equal(t, "a@b.co", got.PII[0].Text)
}

func TestRedact_RemoteNonASCII(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Code-point positions for "Zoë a@b.co".
		_, _ = w.Write([]byte(`{"pii":[{"label":"EMAIL","word":"a@b.co","score":1,"position":[[4,10]]}]}`))
	}))
	defer srv.Close()

	out, err := run(t, "", "--config", missingConfig(t), "--server", srv.URL, "-o", "json", "redact", "Zoë a@b.co")
	require.NoError(t, err)
	var redacted struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &redacted))
	assert.Equal(t, "Zoë [EMAIL_1]", redacted.Text)

	out, err = run(t, "", "--server", srv.URL, "-o", "json", "predict", "Zoë a@b.co")
	require.NoError(t, err)
	var got struct {
		PII []detect.Entity `json:"pii"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.PII, 1)
	assert.Equal(t, []detect.Position{{4, 10}}, got.PII[0].Positions)
}

func TestPredict_RemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"classifier unavailable"}`))
	}))
	defer srv.Close()

	_, err := run(t, "", "predict", "--server", srv.URL, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "classifier unavailable")
}

func TestPredict_LocalTable(t *testing.T) {
	out, err := run(t, "", "--config", missingConfig(t), "predict", "write", "to", "a@b.co")
	require.NoError(t, err)
	assert.Contains(t, out, "LABEL")
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "a@b.co")
	assert.Contains(t, out, "9-15")
}

func TestRedactAndRestore(t *testing.T) {
	cfg := missingConfig(t)
	out, err := run(t, "", "--config", cfg, "-o", "json", "redact", "--labels", "email", "Ping a@b.co or a@b.co")
	require.NoError(t, err)

	var got struct {
		Text  string `json:"text"`
		Items []struct {
			Placeholder string `json:"placeholder"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Ping [EMAIL_1] or [EMAIL_1]", got.Text)
	require.Len(t, got.Items, 1)

	itemsPath := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(itemsPath, []byte(out), 0o644))
	restored, err := run(t, got.Text, "restore", "--items", itemsPath)
	require.NoError(t, err)
	assert.Equal(t, "Ping a@b.co or a@b.co", restored)
}

func TestDecodeItems(t *testing.T) {
	items, err := decodeItems([]byte(`[{"label":"EMAIL","original":"a","placeholder":"[EMAIL_1]"}]`))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = decodeItems([]byte(`nope`))
	assert.Error(t, err)
}

func TestPatterns(t *testing.T) {
	out, err := run(t, "", "patterns")
	require.NoError(t, err)
	for _, l := range detect.DefaultPatterns().Labels() {
		assert.Contains(t, out, l)
	}
}

func TestInvalidOutput(t *testing.T) {
	_, err := run(t, "", "-o", "xml", "patterns")
	assert.ErrorContains(t, err, "--output")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "piictl dev\n", out)
}

func TestConfigInitAndShow(t *testing.T) {
	path := missingConfig(t)
	out, err := run(t, "", "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = run(t, "", "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "", "--config", path, "-o", "json", "config", "show")
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Contains(t, cfg, "Server")
}
