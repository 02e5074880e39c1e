package vgit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zuul_gateway_refs",
			Help: "Number of refs in the virtual repository.",
		},
	)
	objectsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "zuul_gateway_objects",
			Help: "Number of objects in the virtual repository.",
		},
	)
	refOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zuul_gateway_ref_operations_total",
			Help: "Ref additions, deletions and rollbacks by result.",
		},
		[]string{"op", "result"},
	)
)

func (s *Store) updateGaugesLocked() {
	refsGauge.Set(float64(len(s.refs)))
	objectsGauge.Set(float64(len(s.objects)))
}
