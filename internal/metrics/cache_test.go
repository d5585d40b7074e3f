package metrics

import (
	"math"
	"testing"

	"dcwatch/internal/model"
)

func sample(source, element string, value float64, ts, ttl uint64) model.MetricSample {
	return model.MetricSample{
		ElementName: element,
		Source:      source,
		Value:       value,
		Timestamp:   ts,
		TTL:         ttl,
	}
}

func TestUpdateAndLookup(t *testing.T) {
	c := NewCache()
	c.SetClock(func() uint64 { return 1000 })

	c.Update(sample("temperature", "rack-01", 42.5, 1000, 60))
	if got := c.Lookup("temperature@rack-01"); got != 42.5 {
		t.Fatalf("lookup: %v", got)
	}
	if got := c.Lookup("humidity@rack-01"); !math.IsNaN(got) {
		t.Fatalf("expected NaN for unknown topic, got %v", got)
	}

	last, ok := c.LastInserted()
	if !ok || last.Topic() != "temperature@rack-01" {
		t.Fatalf("last inserted: %v %v", last, ok)
	}
}

func TestUpdateReplacesUnconditionally(t *testing.T) {
	c := NewCache()
	c.Update(sample("temperature", "rack-01", 10, 2000, 60))
	// older timestamp still overwrites; ingestion order wins
	c.Update(sample("temperature", "rack-01", 20, 1500, 60))
	if got := c.Lookup("temperature@rack-01"); got != 20 {
		t.Fatalf("expected overwrite, got %v", got)
	}
}

func TestLookupFreshStaleness(t *testing.T) {
	c := NewCache()
	c.Update(sample("load", "server-07", 1.5, 1000, 30))

	cases := []struct {
		now   uint64
		fresh bool
	}{
		{1000, true},
		{1029, true},
		{1030, true}, // now == timestamp+ttl is still live
		{1031, false},
		{5000, false},
	}
	for _, tc := range cases {
		c.SetClock(func() uint64 { return tc.now })
		got := c.LookupFresh("load@server-07")
		if tc.fresh && got != 1.5 {
			t.Fatalf("now=%d: expected live value, got %v", tc.now, got)
		}
		if !tc.fresh && !math.IsNaN(got) {
			t.Fatalf("now=%d: expected NaN, got %v", tc.now, got)
		}
		// raw lookup ignores staleness either way
		if raw := c.Lookup("load@server-07"); raw != 1.5 {
			t.Fatalf("now=%d: raw lookup changed: %v", tc.now, raw)
		}
	}
}

func TestSweepExpired(t *testing.T) {
	c := NewCache()
	c.SetClock(func() uint64 { return 1100 })
	c.Update(sample("temperature", "rack-01", 42, 1000, 50))  // expired
	c.Update(sample("humidity", "rack-01", 55, 1000, 200))    // live
	c.Update(sample("temperature", "rack-02", 40, 1090, 300)) // live

	if removed := c.SweepExpired(); removed != 1 {
		t.Fatalf("removed: %d", removed)
	}
	if c.Len() != 2 {
		t.Fatalf("len: %d", c.Len())
	}
	if got := c.Lookup("temperature@rack-01"); !math.IsNaN(got) {
		t.Fatalf("expected swept entry gone, got %v", got)
	}
	if got := c.LookupFresh("humidity@rack-01"); got != 55 {
		t.Fatalf("live entry lost: %v", got)
	}
}
