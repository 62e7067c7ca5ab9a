package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reviewWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookshelf_review_writes_total",
		Help: "Committed review writes by operation.",
	}, []string{"op"})

	ratingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookshelf_rating_recompute_retries_total",
		Help: "Book transactions replayed after a deadlock or serialization failure.",
	})

	ratingConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookshelf_rating_conflicts_total",
		Help: "Book transactions abandoned after exhausting their retry budget.",
	})

	reviewVotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookshelf_review_votes_total",
		Help: "Vote requests by result (set, cleared, self_vote).",
	}, []string{"result"})
)

// ObserveTxRetry counts a replayed book transaction. It matches
// database.TxOptions.OnRetry.
func ObserveTxRetry(int, error) {
	ratingRetries.Inc()
}
