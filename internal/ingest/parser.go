package ingest

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseError describes why a daily payload could not be decoded. It carries
// the offending line and field for diagnostics; the same bytes will fail the
// same way on every attempt, so parse failures are never retried.
type ParseError struct {
	Line  int
	Field string
	Msg   string
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse")
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

var requiredColumns = []string{"ticker", "open", "high", "low", "close", "volume"}

// ParseDay decodes a whole-market daily CSV payload (optionally gzipped) and
// returns the bars belonging to the requested ticker, stamped with the given
// trading day. A payload with a valid header and zero matching rows yields an
// empty slice and nil error: the instrument simply did not trade.
//
// Parsing is pure. Any structural defect (missing column, ragged row, bad
// number) fails the whole payload with a *ParseError; per-row missing values
// are represented as NaN (prices, volume) or nil (transactions) and left to
// the validator.
func ParseDay(raw []byte, ticker string, day time.Time) ([]Record, error) {
	reader, err := payloadReader(raw)
	if err != nil {
		return nil, &ParseError{Msg: "decompress payload", Err: err}
	}

	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Line: 1, Msg: "empty payload, header expected"}
	}
	if err != nil {
		return nil, &ParseError{Line: 1, Msg: "read header", Err: err}
	}

	columns, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	timestamp := Day(day)
	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &ParseError{Line: line, Msg: "read row", Err: err}
		}
		if row[columns["ticker"]] != ticker {
			continue
		}

		rec := Record{Ticker: ticker, Timestamp: timestamp}
		if rec.Open, err = parsePrice(row, columns, "open", line); err != nil {
			return nil, err
		}
		if rec.High, err = parsePrice(row, columns, "high", line); err != nil {
			return nil, err
		}
		if rec.Low, err = parsePrice(row, columns, "low", line); err != nil {
			return nil, err
		}
		if rec.Close, err = parsePrice(row, columns, "close", line); err != nil {
			return nil, err
		}
		if rec.Volume, err = parsePrice(row, columns, "volume", line); err != nil {
			return nil, err
		}
		if idx, ok := columns["transactions"]; ok {
			cell := strings.TrimSpace(row[idx])
			if cell != "" {
				n, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					return nil, &ParseError{Line: line, Field: "transactions", Msg: "invalid integer", Err: err}
				}
				rec.Transactions = &n
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func payloadReader(raw []byte) (io.Reader, error) {
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		return gzip.NewReader(bytes.NewReader(raw))
	}
	return bytes.NewReader(raw), nil
}

func indexColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &ParseError{
			Line: 1,
			Msg:  fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}
	return columns, nil
}

// parsePrice reads a numeric cell. An empty cell is a missing value, not a
// parse failure: it becomes NaN so the validator can apply its policy.
func parsePrice(row []string, columns map[string]int, field string, line int) (float64, error) {
	cell := strings.TrimSpace(row[columns[field]])
	if cell == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, &ParseError{Line: line, Field: field, Msg: "invalid number", Err: err}
	}
	return v, nil
}

// AsParseError unwraps err into a *ParseError when possible.
func AsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
