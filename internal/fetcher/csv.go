package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // lines starting with this rune are skipped (0 = none)
	HasHeader  bool // skip the first record
	LazyQuotes bool // accept stray quotes, as in hand-edited word lists
	TrimSpace  bool // trim every field
}

// StreamCSV reads comma-separated records and sends them to a channel.
// Records may have any number of fields; blank records are skipped. Both
// channels are closed when reading completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for skip := opts.HasHeader; ; skip = false {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read record")
				return
			}
			if skip {
				continue
			}
			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}
			if len(record) == 1 && record[0] == "" {
				continue
			}
			if err := send(ctx, rowCh, record); err != nil {
				errCh <- eris.Wrap(err, "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// send delivers row unless ctx is done first.
func send(ctx context.Context, rowCh chan<- []string, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case rowCh <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain consumes a row stream, calling fn for each row. It returns the first
// error from fn or from the stream. The stream is drained before returning.
func Drain(rowCh <-chan []string, errCh <-chan error, fn func(row []string) error) error {
	var fnErr error
	for row := range rowCh {
		if fnErr == nil {
			fnErr = fn(row)
		}
	}
	if streamErr := <-errCh; fnErr == nil {
		return streamErr
	}
	return fnErr
}
