// Package logging provides a small chainable builder for structured log
// fields, kept independent of the zap field types so call sites in
// business logic never import zap directly.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is a chainable map of structured log attributes.
type Fields map[string]any

func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Tenant(tenantID string) Fields {
	f["tenant_id"] = tenantID
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Count(name string, n int) Fields {
	f[name] = n
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

// Zap converts the accumulated fields into zap.Field values for a single
// log call. Every call site does this once, at the point of logging.
func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
