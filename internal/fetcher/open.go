package fetcher

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Open opens a local file for reading. Gzip content is detected by its
// magic bytes and decompressed on the fly.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	rc, err := NewReader(f)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return rc, nil
}

// NewReader wraps r, decompressing it when it starts with a gzip header.
// Closing the result closes r when r is an io.Closer.
func NewReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "fetcher: peek header")
	}
	if !bytes.Equal(head, gzipMagic) {
		return &readCloser{Reader: br, closer: r}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: gzip header")
	}
	return &readCloser{Reader: zr, closer: r, gz: zr}, nil
}

type readCloser struct {
	io.Reader
	closer io.Reader
	gz     *gzip.Reader
}

func (rc *readCloser) Close() error {
	var err error
	if rc.gz != nil {
		err = rc.gz.Close()
	}
	if c, ok := rc.closer.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
