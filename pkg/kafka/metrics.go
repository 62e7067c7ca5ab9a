package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consumerProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookshelf_kafka_consumer_messages_total",
		Help: "Messages handled by consumers, by outcome (ok, failed, malformed).",
	}, []string{"topic", "group", "outcome"})

	consumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookshelf_kafka_consumer_handle_seconds",
		Help:    "Time spent in consumer handlers including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic", "group"})

	producerPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookshelf_kafka_producer_messages_total",
		Help: "Publish attempts by outcome (ok, error).",
	}, []string{"topic", "outcome"})

	dlqPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookshelf_kafka_dlq_messages_total",
		Help: "Messages moved to a dead-letter topic.",
	}, []string{"topic", "group"})
)
