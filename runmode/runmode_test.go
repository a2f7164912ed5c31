package runmode

import "testing"

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: Development},
		{in: "development", want: Development},
		{in: "DEV", want: Development},
		{in: "test", want: Test},
		{in: " production ", want: Production},
		{in: "prod", want: Production},
		{in: "staging", want: Development, wantErr: true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Parse(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVerbose(t *testing.T) {
	t.Parallel()

	if Production.Verbose() {
		t.Fatalf("production must not be verbose")
	}
	if !Development.Verbose() || !Test.Verbose() {
		t.Fatalf("development and test must be verbose")
	}
	if !Production.IsProduction() || Test.IsProduction() {
		t.Fatalf("IsProduction mismatch")
	}
}

func TestUnmarshalText(t *testing.T) {
	t.Parallel()

	var m Mode
	if err := m.UnmarshalText([]byte("production")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != Production {
		t.Fatalf("expected production, got %v", m)
	}
	if err := m.UnmarshalText([]byte("bogus")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
