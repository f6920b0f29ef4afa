// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package server

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
)

// Wire replies.
const (
	InvalidFormatReply = "ERROR: Invalid format. Expected: user_id algorithm num_recommendations [category_filter]"
	RateLimitedReply   = "ERROR: Rate limit exceeded"
	NoResultsLine      = "no recommendations available"
)

// ErrInvalidFormat is returned for request lines that do not parse.
var ErrInvalidFormat = errors.New("invalid request format")

// ParseRequest decodes one request line. Accepted forms:
//
//	user algorithm num
//	user algorithm k num
//	user algorithm k num category
//
// defaultK fills k for the three-field form. A negative category means
// no filter. Unknown algorithm tags parse to recommend.AlgorithmUnknown.
func ParseRequest(line string, defaultK int) (recommend.Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 5 {
		return recommend.Request{}, fmt.Errorf("%d fields: %w", len(fields), ErrInvalidFormat)
	}

	values := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return recommend.Request{}, fmt.Errorf("field %d %q: %w", i+1, f, ErrInvalidFormat)
		}
		values[i] = v
	}

	alg, _ := recommend.ParseAlgorithm(values[1])
	req := recommend.NewRequest(values[0], alg, defaultK, 0)

	switch len(values) {
	case 3:
		req.NumRecommendations = values[2]
	default:
		req.K = values[2]
		req.NumRecommendations = values[3]
	}

	if len(values) == 5 && values[4] >= 0 {
		if values[4] > math.MaxInt32 {
			return recommend.Request{}, fmt.Errorf("category %d out of range: %w", values[4], ErrInvalidFormat)
		}
		req.CategoryFilter = int32(values[4])
	}

	return req, nil
}

// FormatResponse renders results for userID. Result lines that would push
// the reply past maxLen bytes are dropped whole; the header always stays.
// Every line, the last included, ends with a newline.
func FormatResponse(userID int, results []recommend.Result, maxLen int) string {
	var b strings.Builder
	header := fmt.Sprintf("RECOMMENDATIONS for user %d:\n", userID)
	b.WriteString(header)

	if len(results) == 0 {
		if maxLen <= 0 || b.Len()+len(NoResultsLine)+1 <= maxLen {
			b.WriteString(NoResultsLine)
			b.WriteByte('\n')
		}
		return b.String()
	}

	for _, r := range results {
		line := formatResult(r)
		if maxLen > 0 && b.Len()+len(line) > maxLen {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

func formatResult(r recommend.Result) string {
	cat := r.CategoryID
	if cat < 0 {
		cat = ratings.NoCategory
	}
	return fmt.Sprintf("Item %d (Category %d): Rating %.2f\n", r.ItemID, cat, r.PredictedRating)
}
