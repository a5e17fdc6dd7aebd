package staging

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/weather-warehouse-etl/internal/domain"
	"github.com/jszwec/csvutil"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record is one decoded extract row plus every header/value pair of the
// original line, which becomes the raw payload.
type Record struct {
	Row    domain.ExtractRow
	Fields map[string]string
}

// ReadResult is the outcome of reading one extract file.
type ReadResult struct {
	Records []Record
	Skipped int
}

// ReadExtract decodes an extract file. A leading UTF-8 byte order mark is
// dropped, header names are trimmed and lowercased, and rows whose field
// count does not match the header are skipped and counted.
func ReadExtract(r io.Reader) (ReadResult, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return ReadResult{}, errors.New("extract file is empty")
	}
	if err != nil {
		return ReadResult{}, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	dec, err := csvutil.NewDecoder(cr, header...)
	if err != nil {
		return ReadResult{}, fmt.Errorf("create decoder: %w", err)
	}

	var res ReadResult
	for {
		var row domain.ExtractRow
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if isMalformed(err) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("decode line %d: %w", len(res.Records)+res.Skipped+2, err)
		}
		res.Records = append(res.Records, Record{Row: row, Fields: fieldMap(dec.Header(), dec.Record())})
	}
	return res, nil
}

func isMalformed(err error) bool {
	if err == nil {
		return false
	}
	var pe *csv.ParseError
	return errors.Is(err, csvutil.ErrFieldCount) || errors.As(err, &pe)
}

func fieldMap(header, record []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(record) {
			m[h] = record[i]
		}
	}
	return m
}
