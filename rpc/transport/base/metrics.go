package base

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	connectionsOpened = metrics.NewCounter(`pbwire_connections_opened_total`)
	connectionsClosed = metrics.NewCounter(`pbwire_connections_closed_total`)
	framesSent        = metrics.NewCounter(`pbwire_frames_sent_total`)
	framesReceived    = metrics.NewCounter(`pbwire_frames_received_total`)
	exchangesIssued   = metrics.NewCounter(`pbwire_exchanges_issued_total`)
	readTimeouts      = metrics.NewCounter(`pbwire_read_timeouts_total`)
	tlsUpgrades       = metrics.NewCounter(`pbwire_tls_upgrades_total`)
	tlsFailures       = metrics.NewCounter(`pbwire_tls_failures_total`)
)
