package rule

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"

	"dcwatch/internal/audit"
	"dcwatch/internal/metrics"
	"dcwatch/internal/model"
)

// ManualRuleSource marks threshold rules entered by a user. Any other
// rule_source means the bands came from device-reported limits.
const ManualRuleSource = "Manual user input"

// thresholdBand pairs an outcome key with the direction of its comparison.
type thresholdBand struct {
	key  string
	high bool
}

// Band priority order: the first crossed band with a defined outcome wins.
var thresholdBands = []thresholdBand{
	{"high_critical", true},
	{"high_warning", true},
	{"low_critical", false},
	{"low_warning", false},
}

// ThresholdRule compares a single metric against named band constants.
// Covers both the manual and the device-sourced variant; they differ only
// in how parsing discriminates on rule_source.
type ThresholdRule struct {
	name    string
	element string
	class   string
	metric  string
	source  string

	mu       sync.RWMutex
	vars     map[string]float64
	outcomes map[string]model.Outcome

	logger   *slog.Logger
	auditLog audit.Log
}

type thresholdEnvelope struct {
	Threshold json.RawMessage `json:"threshold"`
}

type thresholdBody struct {
	Target     json.RawMessage `json:"target"`
	RuleSource json.RawMessage `json:"rule_source"`
	RuleName   string          `json:"rule_name"`
	Element    string          `json:"element"`
	RuleClass  string          `json:"rule_class"`
	Values     json.RawMessage `json:"values"`
	Results    json.RawMessage `json:"results"`
}

func parseManualThreshold(doc []byte, logger *slog.Logger, auditLog audit.Log) (Rule, error) {
	return parseThreshold(doc, false, logger, auditLog)
}

func parseDeviceThreshold(doc []byte, logger *slog.Logger, auditLog audit.Log) (Rule, error) {
	return parseThreshold(doc, true, logger, auditLog)
}

func parseThreshold(doc []byte, device bool, logger *slog.Logger, auditLog audit.Log) (Rule, error) {
	var envelope thresholdEnvelope
	if err := json.Unmarshal(doc, &envelope); err != nil || envelope.Threshold == nil {
		return nil, ErrNotApplicable
	}
	raw := bytes.TrimSpace(envelope.Threshold)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, malformed("property 'threshold' must be an object")
	}
	var body thresholdBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, malformed("property 'threshold' must be an object")
	}

	var target string
	if body.Target == nil || json.Unmarshal(body.Target, &target) != nil {
		return nil, ErrNotApplicable
	}

	source := ManualRuleSource
	if body.RuleSource != nil {
		if err := json.Unmarshal(body.RuleSource, &source); err != nil {
			return nil, malformed("'rule_source' in json must be a value")
		}
	}
	if device && source == ManualRuleSource {
		return nil, ErrNotApplicable
	}
	if !device && source != ManualRuleSource {
		return nil, ErrNotApplicable
	}

	if body.Values == nil {
		return nil, malformed("parameter 'values' in json must be an array")
	}
	vars, err := decodeValues(body.Values)
	if err != nil {
		return nil, err
	}
	if body.Results == nil {
		return nil, malformed("parameter 'results' in json must be an array")
	}
	outcomes, err := decodeResults(body.Results)
	if err != nil {
		return nil, err
	}

	return &ThresholdRule{
		name:     body.RuleName,
		element:  body.Element,
		class:    body.RuleClass,
		metric:   target,
		source:   source,
		vars:     vars,
		outcomes: outcomes,
		logger:   logger,
		auditLog: auditLog,
	}, nil
}

func (r *ThresholdRule) Name() string    { return r.name }
func (r *ThresholdRule) Element() string { return r.element }
func (r *ThresholdRule) Class() string   { return r.class }

// Source reports where the bands came from (user input or a device).
func (r *ThresholdRule) Source() string { return r.source }

func (r *ThresholdRule) RequiredTopics() []string {
	return []string{r.metric}
}

func (r *ThresholdRule) MatchesTopic(topic string) bool {
	return r.metric == topic
}

func (r *ThresholdRule) SetGlobalVariables(vars map[string]float64) {
	next := copyVariables(vars)
	r.mu.Lock()
	r.vars = next
	r.mu.Unlock()
}

func (r *ThresholdRule) GlobalVariables() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyVariables(r.vars)
}

// Outcomes returns the rule's outcome table keyed by band name.
func (r *ThresholdRule) Outcomes() map[string]model.Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.Outcome, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	return out
}

// Evaluate checks the bands in priority order against the freshest value
// for the rule's metric. A crossed band whose outcome is missing from the
// results table is logged and skipped, lower-priority bands are still
// checked. No crossed band with a defined outcome means RESOLVED.
func (r *ThresholdRule) Evaluate(cache *metrics.Cache) model.Transition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value := cache.LookupFresh(r.metric)
	var ts uint64
	if s, ok := cache.Sample(r.metric); ok {
		ts = s.Timestamp
	}

	for _, band := range thresholdBands {
		limit, ok := r.vars[band.key]
		if !ok {
			continue
		}
		crossed := false
		if band.high {
			crossed = limit < value
		} else {
			crossed = limit > value
		}
		if !crossed {
			continue
		}
		outcome, ok := r.outcomes[band.key]
		if !ok {
			if r.logger != nil {
				r.logger.Error("outcome missing for crossed band",
					"rule", r.name, "band", band.key)
			}
			continue
		}
		tr := model.Transition{
			Status:      model.StatusActive,
			Timestamp:   ts,
			Description: outcome.Description,
			Element:     r.element,
			RuleName:    r.name,
			RuleClass:   r.class,
			Severity:    outcome.Severity,
			Actions:     outcome.Actions,
		}
		r.auditLog.Record(audit.Tag(tr), r.name, auditValue(r.metric, value))
		return tr
	}

	tr := model.Transition{
		Status:      model.StatusResolved,
		Timestamp:   ts,
		Description: "ok",
		Element:     r.element,
		RuleName:    r.name,
		RuleClass:   r.class,
	}
	r.auditLog.Record(audit.Tag(tr), r.name, auditValue(r.metric, value))
	return tr
}
