package ingest

import "testing"

func TestDecodeSample(t *testing.T) {
	doc := `{"element_name":"rack-01","source":"temperature","value":42.5,"timestamp":1700000000,"ttl":60}`
	s, err := DecodeSample([]byte(doc), 300)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Topic() != "temperature@rack-01" || s.Value != 42.5 || s.TTL != 60 {
		t.Fatalf("sample: %+v", s)
	}
}

func TestDecodeSampleDefaults(t *testing.T) {
	doc := `{"element_name":"rack-01","source":"temperature","value":42.5}`
	s, err := DecodeSample([]byte(doc), 300)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TTL != 300 {
		t.Fatalf("default ttl: %d", s.TTL)
	}
	if s.Timestamp == 0 {
		t.Fatalf("timestamp not defaulted")
	}
}

func TestDecodeSampleRejects(t *testing.T) {
	cases := map[string]string{
		"missing element": `{"source":"temperature","value":1}`,
		"missing source":  `{"element_name":"rack-01","value":1}`,
		"bad json":        `{"element_name":`,
	}
	for name, doc := range cases {
		if _, err := DecodeSample([]byte(doc), 300); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
