package rule

import (
	"strings"
	"sync"
	"testing"

	"dcwatch/internal/metrics"
	"dcwatch/internal/model"
)

type captureAudit struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureAudit) Record(tag, rule, values string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, tag+" "+rule+" ("+values+")")
}

func (c *captureAudit) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

const manualThresholdDoc = `{
	"threshold": {
		"target": "temperature@rack-01",
		"rule_name": "temperature.rack-01",
		"element": "rack-01",
		"rule_class": "thermal",
		"values": [
			{"high_warning": 80},
			{"high_critical": 90}
		],
		"results": [
			{"high_warning": {"description": "temperature is high", "severity": "WARNING", "actions": ["EMAIL"]}},
			{"high_critical": {"description": "temperature is critical", "severity": "CRITICAL", "actions": ["EMAIL", "SMS"]}}
		]
	}
}`

func cacheWith(t *testing.T, source, element string, value float64) *metrics.Cache {
	t.Helper()
	c := metrics.NewCache()
	c.SetClock(func() uint64 { return 1000 })
	c.Update(model.MetricSample{
		ElementName: element,
		Source:      source,
		Value:       value,
		Timestamp:   1000,
		TTL:         60,
	})
	return c
}

func mustParse(t *testing.T, doc string, auditLog *captureAudit) Rule {
	t.Helper()
	r, err := Parse([]byte(doc), nil, auditLog)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return r
}

func TestThresholdBandPriority(t *testing.T) {
	aud := &captureAudit{}
	r := mustParse(t, manualThresholdDoc, aud)

	cases := []struct {
		value       float64
		status      model.Status
		description string
	}{
		{95, model.StatusActive, "temperature is critical"},
		{85, model.StatusActive, "temperature is high"},
		{50, model.StatusResolved, "ok"},
	}
	for _, tc := range cases {
		tr := r.Evaluate(cacheWith(t, "temperature", "rack-01", tc.value))
		if tr.Status != tc.status || tr.Description != tc.description {
			t.Fatalf("value %v: got %s %q", tc.value, tr.Status, tr.Description)
		}
	}
	if aud.count() != len(cases) {
		t.Fatalf("audit lines: %d", aud.count())
	}
}

func TestThresholdTransitionPayload(t *testing.T) {
	r := mustParse(t, manualThresholdDoc, &captureAudit{})
	tr := r.Evaluate(cacheWith(t, "temperature", "rack-01", 95))
	if tr.Severity != "CRITICAL" {
		t.Fatalf("severity: %q", tr.Severity)
	}
	if tr.Element != "rack-01" || tr.RuleClass != "thermal" {
		t.Fatalf("element/class: %q %q", tr.Element, tr.RuleClass)
	}
	if len(tr.Actions) != 2 || tr.Actions[0] != "EMAIL" || tr.Actions[1] != "SMS" {
		t.Fatalf("actions: %v", tr.Actions)
	}
	if tr.Timestamp != 1000 {
		t.Fatalf("timestamp: %d", tr.Timestamp)
	}
}

func TestThresholdMissingOutcomeFallsThrough(t *testing.T) {
	doc := `{
		"threshold": {
			"target": "temperature@rack-01",
			"rule_name": "temperature.rack-01",
			"element": "rack-01",
			"values": [
				{"high_warning": 80},
				{"high_critical": 90}
			],
			"results": [
				{"high_warning": {"description": "temperature is high", "severity": "WARNING", "actions": []}}
			]
		}
	}`
	r := mustParse(t, doc, &captureAudit{})
	tr := r.Evaluate(cacheWith(t, "temperature", "rack-01", 95))
	if tr.Status != model.StatusActive || tr.Description != "temperature is high" {
		t.Fatalf("expected fallthrough to high_warning, got %s %q", tr.Status, tr.Description)
	}
}

func TestThresholdUndefinedBandNeverFires(t *testing.T) {
	doc := `{
		"threshold": {
			"target": "temperature@rack-01",
			"rule_name": "temperature.rack-01",
			"element": "rack-01",
			"values": [{"high_warning": 80}],
			"results": [
				{"high_warning": {"description": "warn", "severity": "WARNING", "actions": []}},
				{"high_critical": {"description": "crit", "severity": "CRITICAL", "actions": []}}
			]
		}
	}`
	r := mustParse(t, doc, &captureAudit{})
	tr := r.Evaluate(cacheWith(t, "temperature", "rack-01", 500))
	if tr.Description != "warn" {
		t.Fatalf("high_critical has no constant and must not fire: %q", tr.Description)
	}
}

func TestThresholdLowBands(t *testing.T) {
	doc := `{
		"threshold": {
			"target": "voltage@ups-01",
			"rule_name": "voltage.ups-01",
			"element": "ups-01",
			"values": [
				{"low_warning": 210},
				{"low_critical": 190}
			],
			"results": [
				{"low_warning": {"description": "voltage low", "severity": "WARNING", "actions": []}},
				{"low_critical": {"description": "voltage critically low", "severity": "CRITICAL", "actions": []}}
			]
		}
	}`
	r := mustParse(t, doc, &captureAudit{})

	tr := r.Evaluate(cacheWith(t, "voltage", "ups-01", 180))
	if tr.Description != "voltage critically low" {
		t.Fatalf("low_critical priority: %q", tr.Description)
	}
	tr = r.Evaluate(cacheWith(t, "voltage", "ups-01", 200))
	if tr.Description != "voltage low" {
		t.Fatalf("low_warning: %q", tr.Description)
	}
	tr = r.Evaluate(cacheWith(t, "voltage", "ups-01", 225))
	if tr.Status != model.StatusResolved {
		t.Fatalf("in range: %s", tr.Status)
	}
}

func TestThresholdStaleMetricResolves(t *testing.T) {
	c := metrics.NewCache()
	c.SetClock(func() uint64 { return 5000 })
	c.Update(model.MetricSample{
		ElementName: "rack-01",
		Source:      "temperature",
		Value:       95,
		Timestamp:   1000,
		TTL:         60,
	})
	r := mustParse(t, manualThresholdDoc, &captureAudit{})
	// stale value reads as NaN, no band matches, no alert is raised
	tr := r.Evaluate(c)
	if tr.Status != model.StatusResolved {
		t.Fatalf("stale input must not raise: %s", tr.Status)
	}
}

func TestThresholdEvaluateIdempotent(t *testing.T) {
	r := mustParse(t, manualThresholdDoc, &captureAudit{})
	c := cacheWith(t, "temperature", "rack-01", 85)
	first := r.Evaluate(c)
	second := r.Evaluate(c)
	if !transitionsEqual(first, second) {
		t.Fatalf("evaluations differ: %+v vs %+v", first, second)
	}
}

func transitionsEqual(a, b model.Transition) bool {
	if a.Status != b.Status || a.Timestamp != b.Timestamp ||
		a.Description != b.Description || a.Element != b.Element ||
		a.RuleName != b.RuleName || a.RuleClass != b.RuleClass ||
		a.Severity != b.Severity || len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Actions {
		if a.Actions[i] != b.Actions[i] {
			return false
		}
	}
	return true
}

func TestThresholdSetGlobalVariables(t *testing.T) {
	r := mustParse(t, manualThresholdDoc, &captureAudit{})
	c := cacheWith(t, "temperature", "rack-01", 85)
	if tr := r.Evaluate(c); tr.Status != model.StatusActive {
		t.Fatalf("precondition: %s", tr.Status)
	}
	r.SetGlobalVariables(map[string]float64{"high_warning": 86, "high_critical": 95})
	if tr := r.Evaluate(c); tr.Status != model.StatusResolved {
		t.Fatalf("after raising bands: %s", tr.Status)
	}
}

func TestThresholdRoundTrip(t *testing.T) {
	r := mustParse(t, manualThresholdDoc, &captureAudit{})
	tr, ok := r.(*ThresholdRule)
	if !ok {
		t.Fatalf("expected threshold rule, got %T", r)
	}
	vars := tr.GlobalVariables()
	if vars["high_warning"] != 80 || vars["high_critical"] != 90 || len(vars) != 2 {
		t.Fatalf("values not preserved: %v", vars)
	}
	if tr.Source() != ManualRuleSource {
		t.Fatalf("rule_source default: %q", tr.Source())
	}
	if topics := tr.RequiredTopics(); len(topics) != 1 || topics[0] != "temperature@rack-01" {
		t.Fatalf("topics: %v", topics)
	}
	outcomes := tr.Outcomes()
	crit, ok := outcomes["high_critical"]
	if !ok || crit.Description != "temperature is critical" || crit.Severity != "CRITICAL" {
		t.Fatalf("outcome table not preserved: %+v", outcomes)
	}
	if len(crit.Actions) != 2 || crit.Actions[0] != "EMAIL" || crit.Actions[1] != "SMS" {
		t.Fatalf("actions not preserved: %v", crit.Actions)
	}
	if !tr.MatchesTopic("temperature@rack-01") || tr.MatchesTopic("humidity@rack-01") {
		t.Fatalf("topic matching broken")
	}
}

func TestParseDeviceThreshold(t *testing.T) {
	doc := strings.Replace(manualThresholdDoc,
		`"target": "temperature@rack-01",`,
		`"target": "temperature@rack-01", "rule_source": "epdu-42",`, 1)
	r := mustParse(t, doc, &captureAudit{})
	tr, ok := r.(*ThresholdRule)
	if !ok {
		t.Fatalf("expected threshold rule, got %T", r)
	}
	if tr.Source() != "epdu-42" {
		t.Fatalf("rule_source: %q", tr.Source())
	}
	// device-sourced rules evaluate with the same band algorithm
	if res := tr.Evaluate(cacheWith(t, "temperature", "rack-01", 95)); res.Description != "temperature is critical" {
		t.Fatalf("device evaluate: %q", res.Description)
	}
}

func TestParseThresholdMalformed(t *testing.T) {
	cases := map[string]string{
		"values not array": `{"threshold": {"target": "a@b", "rule_name": "r", "element": "b",
			"values": {"high_warning": 80}, "results": []}}`,
		"values missing": `{"threshold": {"target": "a@b", "rule_name": "r", "element": "b",
			"results": []}}`,
		"results missing": `{"threshold": {"target": "a@b", "rule_name": "r", "element": "b",
			"values": []}}`,
		"rule_source not value": `{"threshold": {"target": "a@b", "rule_source": {"x": 1},
			"rule_name": "r", "element": "b", "values": [], "results": []}}`,
		"threshold null":       `{"threshold": null}`,
		"threshold not object": `{"threshold": [1, 2]}`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc), nil, nil); err == nil {
			t.Fatalf("%s: expected malformed error", name)
		} else if _, ok := err.(*MalformedError); !ok {
			t.Fatalf("%s: expected MalformedError, got %v", name, err)
		}
	}
}

func TestParseThresholdNoTargetNotApplicable(t *testing.T) {
	doc := `{"threshold": {"rule_name": "r", "element": "b", "values": [], "results": []}}`
	_, err := parseManualThreshold([]byte(doc), nil, nil)
	if err != ErrNotApplicable {
		t.Fatalf("expected ErrNotApplicable, got %v", err)
	}
}

func TestAuditValueFormat(t *testing.T) {
	cases := []struct {
		topic string
		value float64
		want  string
	}{
		{"temperature@rack-01", 42.456, "temperature=42.46"},
		{"temperature@rack-01", 42.0, "temperature=42"},
		{"load", 0.5, "load=0.50"},
		{"load", 3.0025, "load=3"},
	}
	for _, tc := range cases {
		if got := auditValue(tc.topic, tc.value); got != tc.want {
			t.Fatalf("auditValue(%q, %v) = %q, want %q", tc.topic, tc.value, got, tc.want)
		}
	}
}

func TestAuditTagFormat(t *testing.T) {
	aud := &captureAudit{}
	r := mustParse(t, manualThresholdDoc, aud)
	r.Evaluate(cacheWith(t, "temperature", "rack-01", 95))
	r.Evaluate(cacheWith(t, "temperature", "rack-01", 85))
	r.Evaluate(cacheWith(t, "temperature", "rack-01", 50))
	want := []string{
		"ACTIVE/C temperature.rack-01 (temperature=95)",
		"ACTIVE/W temperature.rack-01 (temperature=85)",
		"RESOLVED temperature.rack-01 (temperature=50)",
	}
	for i, line := range want {
		if aud.lines[i] != line {
			t.Fatalf("audit line %d: %q, want %q", i, aud.lines[i], line)
		}
	}
}
