package rule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"dcwatch/internal/audit"
	"dcwatch/internal/metrics"
	"dcwatch/internal/model"
)

// luaEntryPoint is the function every rule script must define.
const luaEntryPoint = "main"

// LuaRule drives a script with one Lua state exclusively owned by the rule
// instance. The state is never shared; Clone recompiles from stored source.
type LuaRule struct {
	name    string
	element string
	class   string
	topics  []string

	// mu serializes evaluation and variable rebinding; the Lua state is
	// not safe for concurrent use.
	mu       sync.Mutex
	state    *lua.LState
	code     string
	vars     map[string]float64
	outcomes map[string]model.Outcome

	logger   *slog.Logger
	auditLog audit.Log
	now      func() uint64
}

type luaEnvelope struct {
	Single json.RawMessage `json:"single"`
}

type luaBody struct {
	RuleName   string          `json:"rule_name"`
	Element    string          `json:"element"`
	RuleClass  string          `json:"rule_class"`
	Target     json.RawMessage `json:"target"`
	Evaluation string          `json:"evaluation"`
	Values     json.RawMessage `json:"values"`
	Results    json.RawMessage `json:"results"`
}

func parseLua(doc []byte, logger *slog.Logger, auditLog audit.Log) (Rule, error) {
	var envelope luaEnvelope
	if err := json.Unmarshal(doc, &envelope); err != nil || envelope.Single == nil {
		return nil, ErrNotApplicable
	}
	var body luaBody
	if err := json.Unmarshal(envelope.Single, &body); err != nil {
		return nil, malformed("property 'single' must be an object")
	}

	topics, err := decodeTargets(body.Target)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(body.Evaluation) == "" {
		return nil, malformed("parameter 'evaluation' must hold the rule script")
	}

	vars := map[string]float64{}
	if body.Values != nil {
		if vars, err = decodeValues(body.Values); err != nil {
			return nil, err
		}
	}
	if body.Results == nil {
		return nil, malformed("parameter 'results' in json must be an array")
	}
	outcomes, err := decodeResults(body.Results)
	if err != nil {
		return nil, err
	}

	r := &LuaRule{
		name:     body.RuleName,
		element:  body.Element,
		class:    body.RuleClass,
		topics:   topics,
		vars:     vars,
		outcomes: outcomes,
		logger:   logger,
		auditLog: auditLog,
		now:      func() uint64 { return uint64(time.Now().Unix()) },
	}
	if err := r.setCode(body.Evaluation); err != nil {
		return nil, malformed("%v", err)
	}
	return r, nil
}

func decodeTargets(raw json.RawMessage) ([]string, error) {
	if raw == nil {
		return nil, malformed("parameter 'target' must name the needed metrics")
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil || len(many) == 0 {
		return nil, malformed("parameter 'target' must name the needed metrics")
	}
	return many, nil
}

// setCode opens a fresh Lua state, binds the result-code globals and the
// rule's constants, compiles the script and verifies the entry point. Any
// failure leaves the rule unusable.
func (r *LuaRule) setCode(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != nil {
		r.state.Close()
		r.state = nil
	}
	r.code = ""

	state := lua.NewState()
	bindGlobals(state, r.vars)

	if err := state.DoString(code); err != nil {
		state.Close()
		return fmt.Errorf("invalid rule script: %w", err)
	}
	if _, ok := state.GetGlobal(luaEntryPoint).(*lua.LFunction); !ok {
		state.Close()
		return fmt.Errorf("function %s not found in rule script", luaEntryPoint)
	}

	r.state = state
	r.code = code
	return nil
}

// bindGlobals installs the uppercase result-code constants and the rule's
// numeric variables into the script's global namespace.
func bindGlobals(state *lua.LState, vars map[string]float64) {
	for code := ResultLowCritical; code <= ResultUnknown; code++ {
		state.SetGlobal(strings.ToUpper(ResultToString(code)), lua.LNumber(code))
	}
	for name, v := range vars {
		state.SetGlobal(name, lua.LNumber(v))
	}
}

// Clone builds an independent copy by recompiling the stored source with
// the current variables. The Lua state is never duplicated.
func (r *LuaRule) Clone() (*LuaRule, error) {
	r.mu.Lock()
	clone := &LuaRule{
		name:     r.name,
		element:  r.element,
		class:    r.class,
		topics:   append([]string(nil), r.topics...),
		vars:     copyVariables(r.vars),
		outcomes: r.outcomes,
		logger:   r.logger,
		auditLog: r.auditLog,
		now:      r.now,
	}
	code := r.code
	r.mu.Unlock()
	if err := clone.setCode(code); err != nil {
		return nil, err
	}
	return clone, nil
}

func (r *LuaRule) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != nil {
		r.state.Close()
		r.state = nil
	}
}

func (r *LuaRule) Name() string    { return r.name }
func (r *LuaRule) Element() string { return r.element }
func (r *LuaRule) Class() string   { return r.class }

func (r *LuaRule) RequiredTopics() []string {
	return append([]string(nil), r.topics...)
}

func (r *LuaRule) MatchesTopic(topic string) bool {
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// SetGlobalVariables replaces the constants table wholesale and rebinds it
// into the script's global namespace.
func (r *LuaRule) SetGlobalVariables(vars map[string]float64) {
	next := copyVariables(vars)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vars = next
	if r.state != nil {
		bindGlobals(r.state, r.vars)
	}
}

func (r *LuaRule) GlobalVariables() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyVariables(r.vars)
}

// Evaluate gathers the last-seen value of every required topic in
// declaration order. Any missing value short-circuits to UNKNOWN without
// invoking the script. Otherwise the values are passed positionally to
// main() and its single numeric result is mapped through the outcome
// vocabulary.
func (r *LuaRule) Evaluate(cache *metrics.Cache) model.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	var auditValues strings.Builder
	values := make([]float64, 0, len(r.topics))
	complete := true
	for _, topic := range r.topics {
		value := cache.Lookup(topic)
		if auditValues.Len() > 0 {
			auditValues.WriteString(", ")
		}
		auditValues.WriteString(auditValue(topic, value))
		if math.IsNaN(value) {
			if r.logger != nil {
				r.logger.Debug("metric not yet available", "rule", r.name, "topic", topic)
			}
			complete = false
			break
		}
		values = append(values, value)
	}

	tr := model.Transition{
		Status:    model.StatusUnknown,
		Timestamp: r.now(),
		Element:   r.element,
		RuleName:  r.name,
		RuleClass: r.class,
	}

	if complete {
		result, err := r.call(values)
		switch {
		case err != nil:
			if r.logger != nil {
				r.logger.Error("rule script failed", "rule", r.name, "err", err)
			}
		default:
			status := int(result)
			key := ResultToString(status)
			if outcome, ok := r.outcomes[key]; ok {
				tr.Status = model.StatusActive
				tr.Description = outcome.Description
				tr.Severity = outcome.Severity
				tr.Actions = outcome.Actions
			} else if status == ResultOK {
				tr.Status = model.StatusResolved
				tr.Description = "everything is ok"
			} else if r.logger != nil {
				r.logger.Error("rule script returned a result missing from its results table",
					"rule", r.name, "result", key, "code", status)
			}
		}
	}

	r.auditLog.Record(audit.Tag(tr), r.name, auditValues.String())
	return tr
}

// call invokes the script entry point with the metric values and requires
// exactly one numeric return.
func (r *LuaRule) call(values []float64) (float64, error) {
	if r.state == nil {
		return 0, fmt.Errorf("rule %s has no compiled script", r.name)
	}
	args := make([]lua.LValue, len(values))
	for i, v := range values {
		args[i] = lua.LNumber(v)
	}
	err := r.state.CallByParam(lua.P{
		Fn:      r.state.GetGlobal(luaEntryPoint),
		NRet:    1,
		Protect: true,
	}, args...)
	if err != nil {
		return 0, fmt.Errorf("calling %s failed: %w", luaEntryPoint, err)
	}
	ret := r.state.Get(-1)
	r.state.Pop(1)
	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("%s did not return a number", luaEntryPoint)
	}
	return float64(n), nil
}
