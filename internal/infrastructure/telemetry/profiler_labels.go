package telemetry

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Pyroscope label keys.
const (
	ProfilingLabelController     = "controller"
	ProfilingLabelRoute          = "route"
	ProfilingLabelMethod         = "method"
	ProfilingLabelOrganizationID = "organization_id"
	ProfilingLabelOperation      = "operation"
)

// MaxLabelValueLength caps label values; longer values are cut.
const MaxLabelValueLength = 128

// HighCardinalityLabels are never attached to profiles. Read-only.
// Organizations are few, so organization_id is allowed.
var HighCardinalityLabels = map[string]bool{
	"user_id":    true,
	"request_id": true,
	"payment_id": true,
	"invoice_id": true,
	"trace_id":   true,
	"span_id":    true,
	"session_id": true,
}

// WithProfilingLabels runs fn with pprof labels taken from labels, so CPU time
// can be split by route, operation or organization in Pyroscope. The map is
// read once and not retained.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// sanitizeLabels flattens labels into key/value pairs sorted by normalized
// key, dropping empty and high-cardinality entries. Keys are normalized to
// snake_case; when two keys normalize alike the one sorting last wins.
func sanitizeLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}

	kept := make(map[string]string, len(labels))
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		key, v := labelKey(k), labels[k]
		if key == "" || v == "" || HighCardinalityLabels[k] || HighCardinalityLabels[key] {
			continue
		}
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		kept[key] = v
	}

	pairs := make([]string, 0, len(kept)*2)
	for _, key := range slices.Sorted(maps.Keys(kept)) {
		pairs = append(pairs, key, kept[key])
	}
	return pairs
}

func labelKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// HTTPRequestLabels builds the per-request label set; empty arguments are left out.
func HTTPRequestLabels(controller, route, method, organizationID string) map[string]string {
	labels := map[string]string{}
	for k, v := range map[string]string{
		ProfilingLabelController:     controller,
		ProfilingLabelRoute:          route,
		ProfilingLabelMethod:         method,
		ProfilingLabelOrganizationID: organizationID,
	} {
		if v != "" {
			labels[k] = v
		}
	}
	return labels
}

// OperationLabels labels background work such as scheduled jobs.
func OperationLabels(operation string, extra map[string]string) map[string]string {
	labels := maps.Clone(extra)
	if labels == nil {
		labels = make(map[string]string, 1)
	}
	labels[ProfilingLabelOperation] = operation
	return labels
}
