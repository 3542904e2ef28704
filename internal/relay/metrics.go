package relay

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Metric names registered by the relay.
const (
	MetricConnections       = "connections"
	MetricRecvBytes         = "conn.recv.bytes"
	MetricEchoBytes         = "echo.bytes"
	MetricBroadcastMessages = "broadcast.messages"
	MetricBroadcastSent     = "broadcast.sent"
	MetricBroadcastFailed   = "broadcast.failed"
	MetricBroadcastFanout   = "broadcast.fanout"
)

type metrics struct {
	reg gometrics.Registry
}

func newMetrics(reg gometrics.Registry) metrics {
	if reg == nil {
		reg = gometrics.NewRegistry()
	}
	return metrics{reg: reg}
}

func (m metrics) incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func (m metrics) decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

func (m metrics) fanout(n int) {
	gometrics.GetOrRegisterHistogram(MetricBroadcastFanout, m.reg,
		gometrics.NewUniformSample(1028)).Update(int64(n))
}

// Count returns the current value of a relay counter in reg.
func Count(reg gometrics.Registry, name string) int64 {
	return gometrics.GetOrRegisterCounter(name, reg).Count()
}
