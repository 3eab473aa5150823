package eventing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("cline/eventing")

var propagator = propagation.TraceContext{}
