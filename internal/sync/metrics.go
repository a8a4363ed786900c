package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	remoteWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostersync",
		Subsystem: "sync",
		Name:      "remote_writes_total",
		Help:      "Background remote writes issued by Save, by outcome.",
	}, []string{"outcome"})

	backfills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostersync",
		Subsystem: "sync",
		Name:      "backfills_total",
		Help:      "Backfill attempts scheduled by Load, by outcome (created, exists, failed).",
	}, []string{"outcome"})

	listenEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostersync",
		Subsystem: "sync",
		Name:      "listen_events_total",
		Help:      "Remote change events received by listeners, by kind (applied, absent, undecodable).",
	}, []string{"kind"})

	pushDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rostersync",
		Subsystem: "sync",
		Name:      "push_documents_total",
		Help:      "Documents written by PushAll, by result (synced, error).",
	}, []string{"result"})
)
