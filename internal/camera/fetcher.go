// Package camera loads still images from disk or from a camera's HTTP
// capture endpoint.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyAddress = errors.New("camera address is empty")
	ErrTooLarge     = errors.New("capture exceeds size limit")
	ErrBadStatus    = errors.New("camera returned non-2xx status")
)

// Fetcher downloads captures into ScratchDir. Zero values fall back to
// http.DefaultClient, "/capture" and no size limit.
type Fetcher struct {
	Client       *http.Client
	CapturePath  string
	ScratchDir   string
	MaxBytes     int64
	KeepCaptures bool
	Logger       zerolog.Logger
}

// Capture is a downloaded image bound to its scratch file. Close removes
// the file unless the fetcher keeps captures.
type Capture struct {
	Path  string
	Image image.Image
	keep  bool
}

func (c *Capture) Close() error {
	if c == nil || c.keep || c.Path == "" {
		return nil
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// FetchLocal decodes the image stored at path.
func (f *Fetcher) FetchLocal(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// URL returns the capture endpoint of the camera at addr (host or host:port).
func (f *Fetcher) URL(addr string) string {
	p := f.CapturePath
	if p == "" {
		p = "/capture"
	}
	return "http://" + addr + "/" + strings.TrimLeft(p, "/")
}

// FetchRemote downloads a capture from the camera at addr into a new
// scratch file and decodes it. On error no scratch file is left behind.
func (f *Fetcher) FetchRemote(ctx context.Context, addr string) (*Capture, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	url := f.URL(addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("get %s: %w: %d", url, ErrBadStatus, resp.StatusCode)
	}

	dir := f.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	c := &Capture{Path: filepath.Join(dir, uuid.NewString()+".jpg"), keep: f.KeepCaptures}
	if err := f.save(resp.Body, c.Path); err != nil {
		_ = os.Remove(c.Path)
		return nil, err
	}
	img, err := f.FetchLocal(c.Path)
	if err != nil {
		c.keep = false
		_ = c.Close()
		return nil, err
	}
	c.Image = img
	f.Logger.Debug().Str("url", url).Str("file", c.Path).Msg("capture downloaded")
	return c, nil
}

func (f *Fetcher) save(body io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	defer out.Close()

	src := body
	if f.MaxBytes > 0 {
		src = io.LimitReader(body, f.MaxBytes+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return fmt.Errorf("download capture: %w", err)
	}
	if f.MaxBytes > 0 && n > f.MaxBytes {
		return fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.MaxBytes)
	}
	return out.Close()
}
