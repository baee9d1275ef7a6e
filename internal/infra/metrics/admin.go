package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminRequestsTotal) }

var adminRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_api_requests_total",
		Help: "Admin API requests by route and auth result.",
	},
	[]string{"route", "status"}, // status: 'authorized', 'unauthorized', 'rate_limited'
)

func IncAdminRequest(route, status string) {
	adminRequestsTotal.WithLabelValues(norm(route), norm(status)).Inc()
}
