package fetcher

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// TSVOptions configures the streaming tab-separated reader.
type TSVOptions struct {
	HasHeader bool   // skip the first line
	Comment   string // lines starting with this prefix are skipped ("" = none)
	MinFields int    // rows with fewer fields are skipped
}

// maxLineSize bounds a single line. Geonames alternate-name columns can run
// to several hundred kilobytes.
const maxLineSize = 4 * 1024 * 1024

// StreamTSV reads tab-separated lines and sends their fields to a channel.
// Fields are not unquoted; quote characters are ordinary text in
// gazetteer dumps. Both channels are closed when reading completes.
func StreamTSV(ctx context.Context, r io.Reader, opts TSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		first := true
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if first && opts.HasHeader {
				first = false
				continue
			}
			first = false
			if line == "" || (opts.Comment != "" && strings.HasPrefix(line, opts.Comment)) {
				continue
			}
			fields := strings.Split(line, "\t")
			if len(fields) < opts.MinFields {
				continue
			}

			if err := send(ctx, rowCh, fields); err != nil {
				errCh <- eris.Wrap(err, "tsv: context cancelled")
				return
			}
		}
		if err := sc.Err(); err != nil {
			errCh <- eris.Wrap(err, "tsv: read line")
		}
	}()

	return rowCh, errCh
}
