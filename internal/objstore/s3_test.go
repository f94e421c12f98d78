package objstore

import "testing"

func TestLogQueryPrefix(t *testing.T) {
	query := LogQuery{
		Client: "acme",
		Tenant: "retail",
		Year:   2026,
		Month:  3,
		Day:    7,
	}
	want := "client=acme/tenant=retail/year=2026/month=03/day=07/"
	if got := query.Prefix(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	query.Resource = "selphid"
	want += "resource=selphid/"
	if got := query.Prefix(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing endpoint", Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}},
		{"missing credentials", Config{Endpoint: "minio.local:9000", Bucket: "b"}},
		{"missing bucket", Config{Endpoint: "minio.local:9000", AccessKey: "a", SecretKey: "s"}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
