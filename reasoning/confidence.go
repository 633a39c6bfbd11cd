package reasoning

import (
	"github.com/brunobiangulo/medreason/extract"
)

// NeutralScore is returned when a document yields nothing to score.
const NeutralScore = 0.5

// Quality is a coarse confidence tier.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Score is the unweighted mean of every recognized entity, lab result and
// medication confidence.
func Score(entities []extract.ExtractedEntity, data *extract.StructuredData) float64 {
	var sum float64
	var n int
	for _, e := range entities {
		sum += e.Confidence
		n++
	}
	if data != nil {
		for _, l := range data.LabResults {
			sum += l.Confidence
			n++
		}
		for _, m := range data.Medications {
			sum += m.Confidence
			n++
		}
	}
	if n == 0 {
		return NeutralScore
	}

	score := sum / float64(n)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Tier grades a score. Both bounds are strict: 0.8 is medium, 0.6 is low.
func Tier(score float64) Quality {
	switch {
	case score > 0.8:
		return QualityHigh
	case score > 0.6:
		return QualityMedium
	default:
		return QualityLow
	}
}
