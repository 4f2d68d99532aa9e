package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vitrinehq/vitrine/internal/manifest"
)

// resolveImage maps the manifest's image reference to a local file: an
// http(s) URL is downloaded into the image cache once, an absolute
// path is used as is, and anything else is tried relative to the
// manifest first and as a cache entry second.
func (c *Controller) resolveImage(ctx context.Context, vm *manifest.VM) (string, error) {
	image := vm.VM.Image

	if strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://") {
		return c.downloadImage(ctx, image)
	}

	if filepath.IsAbs(image) {
		if _, err := os.Stat(image); err != nil {
			return "", fmt.Errorf("%w: %s", ErrImageNotFound, image)
		}
		return image, nil
	}

	relative := filepath.Join(vm.Dir(), image)
	if _, err := os.Stat(relative); err == nil {
		return relative, nil
	}

	cached := filepath.Join(c.imagesDir(), image)
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	return "", fmt.Errorf("%w: %s (tried %s and %s)", ErrImageNotFound, image, relative, cached)
}

// downloadImage fetches a base image into the cache, keyed by the last
// URL path segment. An existing cache entry short-circuits the fetch.
func (c *Controller) downloadImage(ctx context.Context, url string) (string, error) {
	name := url[strings.LastIndex(url, "/")+1:]
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", fmt.Errorf("%w: no file name in URL %s", ErrImageNotFound, url)
	}

	dst := filepath.Join(c.imagesDir(), name)
	if _, err := os.Stat(dst); err == nil {
		c.logger.Info("using cached image", "image", dst)
		return dst, nil
	}

	if err := os.MkdirAll(c.imagesDir(), 0o755); err != nil {
		return "", fmt.Errorf("unable to create image cache: %w", err)
	}

	c.logger.Info("downloading image", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("unable to build image request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to download image %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unable to download image %s: HTTP %d", url, resp.StatusCode)
	}

	// Download to a .part file so an interrupted fetch never poisons
	// the cache.
	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("unable to create %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("unable to download image %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("unable to finish writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("unable to finalize image download: %w", err)
	}

	c.logger.Info("image cached", "image", dst)

	return dst, nil
}
