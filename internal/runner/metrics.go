package runner

import (
	"fmt"

	"github.com/mpetrov/arbiter/internal/model"
)

// accuracyThreshold is the accuracy (percent) a judge must reach on the
// golden set to count as calibrated.
const accuracyThreshold = 90.0

var verdicts = []model.Verdict{model.VerdictPass, model.VerdictFail, model.VerdictInconclusive}

// ConfusionMatrix counts (ground truth, predicted) verdict pairs. Cells
// are keyed "{truth}_as_{predicted}" over the three verdict values.
type ConfusionMatrix map[string]int

// NewConfusionMatrix returns a matrix with all nine cells present and
// zeroed, so persisted matrices always carry the full shape.
func NewConfusionMatrix() ConfusionMatrix {
	m := make(ConfusionMatrix, len(verdicts)*len(verdicts))
	for _, truth := range verdicts {
		for _, predicted := range verdicts {
			m[cellKey(truth, predicted)] = 0
		}
	}
	return m
}

func cellKey(truth, predicted model.Verdict) string {
	return fmt.Sprintf("%s_as_%s", truth, predicted)
}

// Add increments the cell for one scored golden question.
func (m ConfusionMatrix) Add(truth, predicted model.Verdict) {
	m[cellKey(truth, predicted)]++
}

// Cell returns one count.
func (m ConfusionMatrix) Cell(truth, predicted model.Verdict) int {
	return m[cellKey(truth, predicted)]
}

// ClassMetrics holds precision, recall, and F1 for one verdict class, on
// a 0-100 scale. Zero denominators yield 0, never NaN.
type ClassMetrics struct {
	Precision float64
	Recall    float64
	F1        float64
}

// MetricsFor derives the per-class metrics for one verdict class from the
// matrix: true positives are the diagonal cell, false positives the rest
// of the predicted-class column, false negatives the rest of the
// truth-class row.
func (m ConfusionMatrix) MetricsFor(class model.Verdict) ClassMetrics {
	tp := m.Cell(class, class)
	fp, fn := 0, 0
	for _, v := range verdicts {
		if v == class {
			continue
		}
		fp += m.Cell(v, class)
		fn += m.Cell(class, v)
	}

	var cm ClassMetrics
	if tp+fp > 0 {
		cm.Precision = float64(tp) / float64(tp+fp) * 100
	}
	if tp+fn > 0 {
		cm.Recall = float64(tp) / float64(tp+fn) * 100
	}
	if cm.Precision+cm.Recall > 0 {
		cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
	}
	return cm
}
