// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package ratings

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseResult is the outcome of reading a ratings file.
type ParseResult struct {
	Records   []Rating
	Malformed int
}

// ParseRows reads semicolon-separated rows of
// user;item;category;rating[;timestamp]. Blank lines and lines starting
// with '#' are ignored; rows that do not parse are counted as malformed
// and skipped. Range checks are left to the Store.
func ParseRows(r io.Reader) (ParseResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var res ParseResult
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Malformed++
				continue
			}
			return res, fmt.Errorf("read ratings: %w", err)
		}

		rating, ok := parseRow(fields)
		if !ok {
			res.Malformed++
			continue
		}
		res.Records = append(res.Records, rating)
	}
}

func parseRow(fields []string) (Rating, bool) {
	if len(fields) < 4 || len(fields) > 5 {
		return Rating{}, false
	}

	user, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
	if err != nil {
		return Rating{}, false
	}
	item, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 32)
	if err != nil {
		return Rating{}, false
	}
	category, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return Rating{}, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return Rating{}, false
	}

	r := Rating{
		UserID:     uint32(user),
		ItemID:     uint32(item),
		CategoryID: int32(category),
		Value:      value,
	}
	if len(fields) == 5 && strings.TrimSpace(fields[4]) != "" {
		ts, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
		if err != nil {
			return Rating{}, false
		}
		r.Timestamp = ts
	}
	return r, true
}

// LoadFile parses path and bulk-ingests its rows into s.
// Returns the number of rows loaded and the parse result.
func (s *Store) LoadFile(path string) (int, ParseResult, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from trusted configuration
	if err != nil {
		return 0, ParseResult{}, fmt.Errorf("open ratings file: %w", err)
	}
	defer func() { _ = f.Close() }()

	res, err := ParseRows(f)
	if err != nil {
		return 0, res, err
	}
	if res.Malformed > 0 {
		s.logger.Warn().Str("path", path).Int("malformed", res.Malformed).Msg("skipped malformed rating rows")
	}
	return s.IngestBulk(res.Records), res, nil
}
