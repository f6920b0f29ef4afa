// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package algorithms

import (
	"math"

	"github.com/InputOutputStream/recommandation-system/internal/ratings"
)

// Accuracy holds prediction error over the cells that were compared.
type Accuracy struct {
	MAE   float64 `json:"mae"`
	RMSE  float64 `json:"rmse"`
	Cells int     `json:"cells"`
}

// Evaluate compares predicted against actual over the cells where both are
// non-zero. Matrices of different shapes are compared on their overlap.
// With no comparable cells both errors are 0.
func Evaluate(actual, predicted *ratings.Matrix) Accuracy {
	rows := min(actual.Rows(), predicted.Rows())
	cols := min(actual.Cols(), predicted.Cols())

	var absSum, sqSum float64
	n := 0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			a, p := actual.Get(r, c), predicted.Get(r, c)
			if a == 0 || p == 0 {
				continue
			}
			diff := a - p
			absSum += math.Abs(diff)
			sqSum += diff * diff
			n++
		}
	}

	if n == 0 {
		return Accuracy{}
	}
	return Accuracy{
		MAE:   absSum / float64(n),
		RMSE:  math.Sqrt(sqSum / float64(n)),
		Cells: n,
	}
}
