package models

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Files every installed model directory holds. Labels come from either
// config.json (id2label) or labels.json.
var (
	requiredModelFiles = []string{"model.onnx", "tokenizer.json"}
	labelFiles         = []string{"config.json", "labels.json"}
)

const checksumPrefix = "sha256:"

type Progress struct {
	Downloaded int64
	Total      int64
	SpeedMBps  float64
	ETA        time.Duration
}

type ProgressCallback func(Progress)

// Downloader fetches and installs model archives. Installs run one at a
// time per Downloader.
type Downloader struct {
	Client  *http.Client
	Retries int
	// RetryWait is the first backoff; it doubles on every retry.
	RetryWait time.Duration

	mu sync.Mutex
}

func NewDownloader() *Downloader {
	return &Downloader{
		Client:    &http.Client{},
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
	}
}

// DownloadAndInstall fetches model.URL, checks its sha256 against
// model.Checksum, unpacks it and swaps it into root/<name>. A failed
// install leaves any previous version in place.
func (d *Downloader) DownloadAndInstall(ctx context.Context, model ModelSpec, root string, onProgress ProgressCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !model.Published() {
		return errors.Errorf("model %s: no published release (registry entry needs url and checksum)", model.Name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errors.Wrap(err, "create models root")
	}
	work, err := os.MkdirTemp(root, model.Name+"-download-*")
	if err != nil {
		return errors.Wrap(err, "create download dir")
	}
	defer os.RemoveAll(work)

	archive := filepath.Join(work, model.Name+".tar.gz")
	sum, err := d.fetchWithRetry(ctx, model.URL, archive, onProgress)
	if err != nil {
		return err
	}
	if got := checksumPrefix + hex.EncodeToString(sum); got != model.Checksum {
		return errors.Errorf("model %s: checksum mismatch: expected %s, got %s", model.Name, model.Checksum, got)
	}

	staged := filepath.Join(work, "extract")
	if err := ExtractTarGz(archive, staged); err != nil {
		return errors.Wrap(err, "extract archive")
	}
	if err := ValidateModelDir(staged); err != nil {
		return errors.Wrapf(err, "model %s", model.Name)
	}
	if err := os.WriteFile(filepath.Join(staged, checksumFile), []byte(model.Checksum+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "record checksum")
	}
	return swapInto(staged, ModelInstallPath(root, model.Name))
}

// swapInto moves staged to final, keeping the old directory as .bak until
// the rename succeeds.
func swapInto(staged, final string) error {
	backup := final + ".bak"
	_ = os.RemoveAll(backup)
	hadPrevious := false
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, backup); err != nil {
			return errors.Wrap(err, "move previous install aside")
		}
		hadPrevious = true
	}
	if err := os.Rename(staged, final); err != nil {
		if hadPrevious {
			_ = os.Rename(backup, final)
		}
		return errors.Wrap(err, "install model")
	}
	return os.RemoveAll(backup)
}

func (d *Downloader) fetchWithRetry(ctx context.Context, url, dest string, onProgress ProgressCallback) ([]byte, error) {
	wait := d.RetryWait
	var lastErr error
	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
		sum, err := d.fetch(ctx, url, dest, onProgress)
		if err == nil {
			return sum, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "download failed after %d attempts", d.Retries+1)
}

// fetch streams url into dest and returns the sha256 of the body.
func (d *Downloader) fetch(ctx context.Context, url, dest string, onProgress ProgressCallback) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("download status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	h := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, start: time.Now(), report: onProgress}
	if _, err := io.Copy(io.MultiWriter(out, h, pw), resp.Body); err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

type progressWriter struct {
	total   int64
	written int64
	start   time.Time
	report  ProgressCallback
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.report == nil {
		return len(b), nil
	}
	prog := Progress{Downloaded: p.written, Total: p.total}
	if elapsed := time.Since(p.start).Seconds(); elapsed > 0 {
		prog.SpeedMBps = float64(p.written) / elapsed / 1024 / 1024
	}
	if p.total > 0 && prog.SpeedMBps > 0 {
		remainingMB := float64(p.total-p.written) / 1024 / 1024
		prog.ETA = time.Duration(remainingMB / prog.SpeedMBps * float64(time.Second))
	}
	p.report(prog)
	return len(b), nil
}

// ExtractTarGz unpacks regular files and directories into dest. Entries
// that would land outside dest are skipped.
func ExtractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, ok := safeJoin(dest, hdr.Name)
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			err = writeFile(target, tr)
		}
		if err != nil {
			return err
		}
	}
}

func safeJoin(dest, name string) (string, bool) {
	clean := strings.TrimPrefix(filepath.Clean(name), "./")
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return "", false
	}
	target := filepath.Join(dest, clean)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", false
	}
	return target, true
}

func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ValidateModelDir accepts a directory holding the model files either
// directly or inside a single nested directory, which is flattened.
func ValidateModelDir(base string) error {
	if checkModelFiles(base) == nil {
		return nil
	}
	entries, _ := os.ReadDir(base)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		nested := filepath.Join(base, e.Name())
		if checkModelFiles(nested) != nil {
			continue
		}
		for _, file := range append(append([]string{}, requiredModelFiles...), labelFiles...) {
			src := filepath.Join(nested, file)
			if _, err := os.Stat(src); err != nil {
				continue
			}
			if err := os.Rename(src, filepath.Join(base, file)); err != nil {
				return errors.Wrap(err, "flatten model dir")
			}
		}
		return nil
	}
	return errors.New("invalid model archive: missing required files")
}

func checkModelFiles(dir string) error {
	for _, file := range requiredModelFiles {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			return errors.Errorf("missing %s", file)
		}
	}
	for _, file := range labelFiles {
		if _, err := os.Stat(filepath.Join(dir, file)); err == nil {
			return nil
		}
	}
	return errors.New("missing config.json or labels.json")
}
