package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts room events by family, type and direction (in/out).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_events_total",
		Help: "Total number of room events sent or received",
	}, []string{"family", "type", "direction"})

	// EventsDropped counts inbound payloads that could not be decoded or were duplicates
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_events_dropped_total",
		Help: "Inbound room events dropped before reaching the reducer",
	}, []string{"reason"}) // reason: malformed, unknown_type, duplicate

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "room_delivery_failures_total",
		Help: "Broadcasts that failed and were queued for retry",
	})

	// ReceiptRejections tracks verification failures; a rising duplicate_reference
	// count points at receipt replay attempts.
	ReceiptRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_receipt_rejections_total",
		Help: "Receipts rejected by verification",
	}, []string{"reason"})

	SettledAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_settled_amount_total",
		Help: "Sum of confirmed payment amounts persisted at room close",
	}, []string{"currency"})

	TransactionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "room_transactions_finished_total",
		Help: "Transactions closed, by final status",
	}, []string{"status"})

	RelayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_clients",
		Help: "Current number of websocket clients attached to the relay",
	})

	RelayRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_rooms",
		Help: "Rooms with at least one attached websocket client",
	})

	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_failures_total",
		Help: "Push notifications that could not be delivered",
	})
)
