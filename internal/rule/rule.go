// Package rule implements the evaluable alert rules: fixed threshold bands
// entered by a user, threshold bands reported by a device, and Lua-scripted
// multi-metric rules. All variants evaluate against the shared metric cache
// and produce one alert transition per call.
package rule

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"dcwatch/internal/audit"
	"dcwatch/internal/metrics"
	"dcwatch/internal/model"
)

// Numeric result codes a rule evaluation (in particular a Lua script) can
// produce. Each maps to an outcome key in the rule's results table.
const (
	ResultLowCritical  = -2
	ResultLowWarning   = -1
	ResultOK           = 0
	ResultHighWarning  = 1
	ResultHighCritical = 2
	ResultUnknown      = 3
)

// ResultToString maps a result code to its outcome key. Codes outside the
// vocabulary map to "unknown".
func ResultToString(code int) string {
	switch code {
	case ResultLowCritical:
		return "low_critical"
	case ResultLowWarning:
		return "low_warning"
	case ResultOK:
		return "ok"
	case ResultHighWarning:
		return "high_warning"
	case ResultHighCritical:
		return "high_critical"
	}
	return "unknown"
}

// Rule is one evaluable unit. Evaluate must be callable repeatedly; its
// only side effect is the audit record.
type Rule interface {
	Name() string
	Element() string
	Class() string
	RequiredTopics() []string
	MatchesTopic(topic string) bool
	Evaluate(cache *metrics.Cache) model.Transition
	SetGlobalVariables(vars map[string]float64)
	GlobalVariables() map[string]float64
}

// ErrNotApplicable reports that a document does not match a variant's
// shape; the caller should try the next variant.
var ErrNotApplicable = errors.New("rule document does not match this variant")

// MalformedError reports a document that matched a variant's shape but
// violates a structural constraint. Loading this rule must be aborted.
type MalformedError struct {
	Detail string
}

func (e *MalformedError) Error() string {
	return "malformed rule: " + e.Detail
}

func malformed(format string, args ...any) error {
	return &MalformedError{Detail: fmt.Sprintf(format, args...)}
}

// Parse sniffs the rule document against each variant in fixed order
// (manual threshold, device threshold, Lua) and keeps the first result
// that is not ErrNotApplicable.
func Parse(doc []byte, logger *slog.Logger, auditLog audit.Log) (Rule, error) {
	if auditLog == nil {
		auditLog = audit.Discard{}
	}
	if !json.Valid(doc) {
		return nil, malformed("document is not valid json")
	}
	parsers := []func([]byte, *slog.Logger, audit.Log) (Rule, error){
		parseManualThreshold,
		parseDeviceThreshold,
		parseLua,
	}
	for _, parse := range parsers {
		r, err := parse(doc, logger, auditLog)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, ErrNotApplicable
}

// decodeValues flattens the rule-document "values" array of single-entry
// objects, e.g. [{"high_warning": 80}, {"high_critical": 90}].
func decodeValues(raw json.RawMessage) (map[string]float64, error) {
	var entries []map[string]float64
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, malformed("parameter 'values' in json must be an array")
	}
	out := make(map[string]float64)
	for _, entry := range entries {
		for name, v := range entry {
			out[name] = v
		}
	}
	return out, nil
}

// decodeResults flattens the "results" array of single-entry objects
// mapping outcome keys to their payloads.
func decodeResults(raw json.RawMessage) (map[string]model.Outcome, error) {
	var entries []map[string]model.Outcome
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, malformed("parameter 'results' in json must be an array")
	}
	out := make(map[string]model.Outcome)
	for _, entry := range entries {
		for name, o := range entry {
			out[name] = o
		}
	}
	return out, nil
}

// auditValue renders one topic=value pair for the audit trail: the metric
// part before the "@" separator, the value with two decimals and a
// trailing ".00" stripped, NaN spelled out.
func auditValue(topic string, value float64) string {
	sval := "NaN"
	if !math.IsNaN(value) {
		sval = strconv.FormatFloat(value, 'f', 2, 64)
		sval = strings.TrimSuffix(sval, ".00")
	}
	name := topic
	if i := strings.Index(topic, "@"); i >= 0 {
		name = topic[:i]
	}
	return name + "=" + sval
}

func copyVariables(vars map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
