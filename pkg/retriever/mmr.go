package retriever

import "math"

// mmr greedily picks up to topK candidate indices by Maximal Marginal
// Relevance: each round selects the candidate maximizing
// lambda*sim(query, c) - (1-lambda)*max_sim(c, already selected).
func mmr(queryVec []float32, candidateVecs [][]float32, lambda float64, topK int) []int {
	n := len(candidateVecs)
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil
	}

	simQuery := make([]float64, n)
	for i, v := range candidateVecs {
		simQuery[i] = cosineSimilarity(queryVec, v)
	}

	simDocs := make([][]float64, n)
	for i := range candidateVecs {
		simDocs[i] = make([]float64, n)
		for j := range candidateVecs {
			if j < i {
				simDocs[i][j] = simDocs[j][i]
				continue
			}
			simDocs[i][j] = cosineSimilarity(candidateVecs[i], candidateVecs[j])
		}
	}

	remaining := make(map[int]struct{}, n)
	for i := 0; i < n; i++ {
		remaining[i] = struct{}{}
	}

	var selected []int
	for len(selected) < topK {
		best := -1
		bestScore := math.Inf(-1)
		for i := range remaining {
			diversity := 0.0
			for _, j := range selected {
				if simDocs[i][j] > diversity {
					diversity = simDocs[i][j]
				}
			}
			score := lambda*simQuery[i] - (1-lambda)*diversity
			if score > bestScore || (score == bestScore && (best == -1 || i < best)) {
				bestScore = score
				best = i
			}
		}
		selected = append(selected, best)
		delete(remaining, best)
	}

	return selected
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
