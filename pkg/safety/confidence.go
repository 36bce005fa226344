// Package safety grades finished answers against the evidence they
// were grounded on: a confidence score from retrieval distances and
// answer length, and a hallucination risk score from answer/source
// similarity.
package safety

import (
	"github.com/xhad/docqa/internal/models"
)

const (
	// defaultConfidence is returned when there is nothing to grade.
	defaultConfidence = 0.2
	// maxConfidence caps the score; retrieval evidence alone never
	// justifies full certainty.
	maxConfidence = 0.95
)

// Confidence scores a finished answer in [0, 0.95]. Each source's
// distance becomes a similarity proxy 1/(1+distance); the average is
// blended with a length factor that penalizes very short answers.
func Confidence(sources []models.RetrievalHit, answer string) float64 {
	if len(sources) == 0 || answer == "" {
		return defaultConfidence
	}

	var sum float64
	for _, s := range sources {
		sum += 1 / (1 + s.Score)
	}
	avgRelevance := sum / float64(len(sources))

	lengthFactor := float64(len(answer)) / 300
	if lengthFactor > 10 {
		lengthFactor = 10
	}

	confidence := 0.6*avgRelevance + 0.4*lengthFactor
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}
