package observability

const (
	DefaultServiceName = "hector"
	DefaultMetricsPath = "/metrics"
)
