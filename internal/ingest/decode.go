package ingest

import (
	"encoding/json"
	"errors"
	"math"
	"time"

	"dcwatch/internal/model"
)

var (
	errMissingElement = errors.New("sample is missing element_name")
	errMissingSource  = errors.New("sample is missing source")
	errBadValue       = errors.New("sample value is not a finite number")
)

// DecodeSample parses one metric sample document. A zero timestamp is
// replaced with the current time, a zero ttl with defaultTTL.
func DecodeSample(data []byte, defaultTTL uint64) (model.MetricSample, error) {
	var s model.MetricSample
	if err := json.Unmarshal(data, &s); err != nil {
		return model.MetricSample{}, err
	}
	return normalizeSample(s, defaultTTL)
}

func normalizeSample(s model.MetricSample, defaultTTL uint64) (model.MetricSample, error) {
	if s.ElementName == "" {
		return model.MetricSample{}, errMissingElement
	}
	if s.Source == "" {
		return model.MetricSample{}, errMissingSource
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return model.MetricSample{}, errBadValue
	}
	if s.Timestamp == 0 {
		s.Timestamp = uint64(time.Now().Unix())
	}
	if s.TTL == 0 {
		s.TTL = defaultTTL
	}
	return s, nil
}
