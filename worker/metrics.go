package worker

import (
	metrics "github.com/docker/go-metrics"
)

type gauges struct {
	inProcess metrics.Gauge
	inQueue   metrics.Gauge
}

// poolGauges exports the pool load; the HTTP layer serves them at /metrics.
var poolGauges = func() *gauges {
	ns := metrics.NewNamespace("questionpy", "pool", nil)
	g := &gauges{
		inProcess: ns.NewGauge("requests_in_process", "Requests currently holding a worker", metrics.Unit("requests")),
		inQueue:   ns.NewGauge("requests_in_queue", "Requests waiting for a worker", metrics.Unit("requests")),
	}
	metrics.Register(ns)
	return g
}()

func (g *gauges) update(p *Pool) {
	usage := p.Usage()
	g.inProcess.Set(float64(usage.RequestsInProcess))
	g.inQueue.Set(float64(usage.RequestsInQueue))
}
