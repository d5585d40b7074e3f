package model

// Status of an alert transition produced by one rule evaluation.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusResolved Status = "RESOLVED"
	StatusUnknown  Status = "UNKNOWN"
)

// MetricSample is one telemetry reading for a single metric of a single
// asset. A later sample for the same topic replaces the previous one.
type MetricSample struct {
	ElementName string  `json:"element_name"`
	Source      string  `json:"source"`
	Value       float64 `json:"value"`
	Timestamp   uint64  `json:"timestamp"`
	TTL         uint64  `json:"ttl"`
}

// Topic is the unique cache key for the sample's metric stream,
// <metric type>@<asset iname>.
func (s MetricSample) Topic() string {
	return s.Source + "@" + s.ElementName
}

// Outcome is the alert payload bound to one outcome key of a rule.
type Outcome struct {
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Actions     []string `json:"actions"`
}

// Transition is the immutable result of one rule evaluation. The engine
// assigns ID when a transition is actually forwarded downstream.
type Transition struct {
	ID          string   `json:"id,omitempty"`
	Status      Status   `json:"status"`
	Timestamp   uint64   `json:"timestamp"`
	Description string   `json:"description"`
	Element     string   `json:"element"`
	RuleName    string   `json:"rule_name"`
	RuleClass   string   `json:"rule_class,omitempty"`
	Severity    string   `json:"severity,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}
