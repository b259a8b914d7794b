package telemetry

// Config holds OpenTelemetry tracing settings.
type Config struct {
	Enabled bool

	// ServiceName is reported as service.name on every span.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces kept, from 0 to 1.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with collector defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "flashwear",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
