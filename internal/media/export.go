package media

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
)

// WriteCSV drains a stream into CSV with a url,basename,label,subset header.
// Structured metadata is serialized as JSON into the label column.
func WriteCSV(ctx context.Context, w io.Writer, s Stream) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"url", "basename", "label", "subset"}); err != nil {
		return err
	}

	for {
		it, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		label := it.Label
		if it.Meta != nil {
			data, err := json.Marshal(it.Meta)
			if err != nil {
				return err
			}
			label = string(data)
		}

		if err := cw.Write([]string{it.URL, it.Basename, label, it.Subset}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
