// Package scoring turns the locally collected datasets for a plugin into one
// bounded risk score with an auditable reason trail. Everything here is pure
// computation over the dataset files; collectors own the network.
package scoring

// ScoreResult is the serialized scoring output. Reasons carry every scoring
// decision in the order it was made; Features carries every computed signal
// so the score can be recomputed and explained without re-reading the
// datasets.
type ScoreResult struct {
	Plugin   string             `json:"plugin"`
	Score    int                `json:"score"`
	Reasons  []string           `json:"reasons"`
	Features map[string]float64 `json:"features"`
}
