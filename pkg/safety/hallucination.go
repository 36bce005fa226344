package safety

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

// Risk labels for a hallucination score.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Report grades how grounded an answer is in its sources. Lower
// HallucinationScore is better; it is 1 - AlignmentScore.
type Report struct {
	HallucinationScore float64 `json:"hallucination_score"`
	AlignmentScore     float64 `json:"alignment_score"`
	Details            Details `json:"details"`
}

type Details struct {
	MaxSourceSimilarity float64 `json:"max_source_similarity,omitempty"`
	AvgSourceSimilarity float64 `json:"avg_source_similarity,omitempty"`
	KeywordOverlap      float64 `json:"keyword_overlap,omitempty"`
	NumSources          int     `json:"num_sources,omitempty"`
	AnswerLength        int     `json:"answer_length,omitempty"`
	RiskLevel           string  `json:"risk_level"`
	Reason              string  `json:"reason,omitempty"`
}

// Scorer embeds answers and sources to measure their alignment.
type Scorer struct {
	embedder types.Embedder
}

func NewScorer(embedder types.Embedder) *Scorer {
	return &Scorer{embedder: embedder}
}

// Hallucination scores answer alignment with its sources. With nothing
// to compare the risk is reported low; with sources present but no
// usable text, high.
func (s *Scorer) Hallucination(ctx context.Context, answer string, sources []models.RetrievalHit) (Report, error) {
	if answer == "" || len(sources) == 0 {
		return Report{
			HallucinationScore: 0.0,
			AlignmentScore:     0.0,
			Details: Details{
				Reason:    "no answer or sources to compare",
				RiskLevel: RiskLow,
			},
		}, nil
	}

	var sourceTexts []string
	for _, src := range sources {
		if src.Text != "" {
			sourceTexts = append(sourceTexts, src.Text)
		}
	}
	if len(sourceTexts) == 0 {
		return Report{
			HallucinationScore: 0.9,
			AlignmentScore:     0.1,
			Details: Details{
				Reason:    "no source texts available",
				RiskLevel: RiskHigh,
			},
		}, nil
	}

	vecs, err := s.embedder.Embed(ctx, append([]string{answer}, sourceTexts...))
	if err != nil {
		return Report{}, fmt.Errorf("failed to embed answer and sources: %w", err)
	}
	if len(vecs) != len(sourceTexts)+1 {
		return Report{}, fmt.Errorf("embedder returned %d vectors for %d texts",
			len(vecs), len(sourceTexts)+1)
	}

	answerVec := vecs[0]
	maxSim := math.Inf(-1)
	var sumSim float64
	for _, srcVec := range vecs[1:] {
		sim := cosineSimilarity(answerVec, srcVec)
		sumSim += sim
		if sim > maxSim {
			maxSim = sim
		}
	}
	avgSim := sumSim / float64(len(sourceTexts))

	overlap := keywordOverlap(answer, sourceTexts)

	// Embedding similarity carries most of the weight: it captures
	// semantic alignment that raw keyword overlap cannot.
	alignment := 0.6*maxSim + 0.3*avgSim + 0.1*overlap
	hallucination := 1.0 - alignment

	return Report{
		HallucinationScore: hallucination,
		AlignmentScore:     alignment,
		Details: Details{
			MaxSourceSimilarity: maxSim,
			AvgSourceSimilarity: avgSim,
			KeywordOverlap:      overlap,
			NumSources:          len(sources),
			AnswerLength:        len(answer),
			RiskLevel:           RiskLevel(hallucination),
		},
	}, nil
}

// RiskLevel maps a hallucination score to a discrete label. The 0.3 and
// 0.6 boundaries are exact cutoffs.
func RiskLevel(hallucinationScore float64) string {
	switch {
	case hallucinationScore < 0.3:
		return RiskLow
	case hallucinationScore < 0.6:
		return RiskMedium
	default:
		return RiskHigh
	}
}

var wordPattern = regexp.MustCompile(`\w+`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "being": {}, "have": {},
	"has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "should": {}, "could": {}, "may": {}, "might": {},
	"must": {}, "can": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "i": {}, "you": {}, "he": {}, "she": {}, "it": {},
	"we": {}, "they": {}, "what": {}, "which": {}, "who": {},
	"when": {}, "where": {}, "why": {}, "how": {},
}

// keywordOverlap is the fraction of the answer's content words that
// appear somewhere in the sources, after stop-word filtering.
func keywordOverlap(answer string, sourceTexts []string) float64 {
	answerWords := contentWords(answer)
	if len(answerWords) == 0 {
		return 0
	}

	sourceWords := make(map[string]struct{})
	for _, text := range sourceTexts {
		for w := range contentWords(text) {
			sourceWords[w] = struct{}{}
		}
	}

	matched := 0
	for w := range answerWords {
		if _, ok := sourceWords[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(answerWords))
}

func contentWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
