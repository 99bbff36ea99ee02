// Package ttscache keeps synthesized speech on disk so a repeated lecture
// chunk is not sent to the speech API twice.
package ttscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/satindergrewal/lectern/internal/lecture"
)

// Cache wraps a speech synthesizer with a directory of base64 PCM files keyed
// by voice and text. Failed syntheses are never stored. Misses for different
// texts run concurrently; concurrent misses for the same text share one call.
type Cache struct {
	dir   string
	voice string
	next  lecture.SpeechSynthesizer

	flight singleflight.Group // keyed by cache path
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates the cache directory if needed.
func New(dir, voice string, next lecture.SpeechSynthesizer) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ttscache: %w", err)
	}
	return &Cache{dir: dir, voice: voice, next: next}, nil
}

func (c *Cache) key(text string) string {
	h := sha256.Sum256([]byte(c.voice + ":" + text))
	return hex.EncodeToString(h[:16])
}

func (c *Cache) path(text string) string {
	return filepath.Join(c.dir, c.key(text)+".pcm.b64")
}

// Synthesize returns cached speech for text or asks the wrapped synthesizer.
func (c *Cache) Synthesize(ctx context.Context, text string) (string, error) {
	path := c.path(text)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		c.hits.Add(1)
		return string(data), nil
	}

	ch := c.flight.DoChan(path, func() (any, error) {
		// Re-read: an earlier flight may have stored it since the miss above
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			c.hits.Add(1)
			return string(data), nil
		}

		c.misses.Add(1)
		data, err := c.next.Synthesize(ctx, text)
		if err != nil {
			return "", err
		}
		if err := writeFile(path, []byte(data)); err != nil {
			log.Warn("Speech cache write failed", "path", path, "err", err)
		}
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stats returns cache hits and misses since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// writeFile stores data via a temp file so readers never see partial audio.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".speech-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
