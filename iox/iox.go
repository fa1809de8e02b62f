// Package iox provides I/O helpers for cleanup and content accounting.
package iox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DigestWriter forwards writes to an underlying writer while counting bytes
// and computing a SHA-256 digest of everything written.
type DigestWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewDigestWriter wraps w.
func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, h: sha256.New()}
}

// Write writes p to the underlying writer. Only bytes accepted by the
// underlying writer are counted and hashed.
func (d *DigestWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

// Count returns the number of bytes written so far.
func (d *DigestWriter) Count() int64 { return d.n }

// Sum returns the hex-encoded SHA-256 of the bytes written so far.
func (d *DigestWriter) Sum() string { return hex.EncodeToString(d.h.Sum(nil)) }

// ContextReader returns a reader that fails with ctx.Err() once ctx is done.
// Reads already in progress are not interrupted.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
