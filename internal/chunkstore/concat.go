package chunkstore

import (
	"context"
	"fmt"
	"io"
)

// Getter opens committed chunks. Every Store is a Getter.
type Getter interface {
	Get(ctx context.Context, sessionID string, index int) (io.ReadCloser, error)
}

// Concat streams the given chunks of a session back to back in the order
// listed, opening each one lazily.
func Concat(ctx context.Context, src Getter, sessionID string, indices []int) io.ReadCloser {
	return &concatReader{ctx: ctx, src: src, session: sessionID, indices: indices}
}

type concatReader struct {
	ctx     context.Context
	src     Getter
	session string
	indices []int
	cur     io.ReadCloser
	next    int
}

func (c *concatReader) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			if c.next >= len(c.indices) {
				return 0, io.EOF
			}
			idx := c.indices[c.next]
			rc, err := c.src.Get(c.ctx, c.session, idx)
			if err != nil {
				return 0, fmt.Errorf("open chunk %d: %w", idx, err)
			}
			c.cur = rc
			c.next++
		}
		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur.Close()
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *concatReader) Close() error {
	if c.cur != nil {
		err := c.cur.Close()
		c.cur = nil
		return err
	}
	return nil
}
