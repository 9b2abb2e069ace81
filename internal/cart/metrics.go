package cart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const resultOK, resultIgnored = "ok", "ignored"

var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart mutations by operation and result",
	},
	[]string{"operation", "result"},
)

func observe(op Op, result string) {
	operationsTotal.WithLabelValues(string(op), result).Inc()
}
