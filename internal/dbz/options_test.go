package dbz

import "testing"

func TestParseResidency(t *testing.T) {
	cases := map[string]Residency{
		"disk":  OnDisk,
		"":      OnDisk,
		"bogus": OnDisk,
		"mem":   Memory,
		"mmap":  Mmap,
	}
	for s, want := range cases {
		if got := ParseResidency(s); got != want {
			t.Errorf("ParseResidency(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestResidencyString(t *testing.T) {
	cases := map[Residency]string{
		OnDisk: "disk",
		Memory: "mem",
		Mmap:   "mmap",
	}
	for r, want := range cases {
		if got := r.String(); got != want {
			t.Errorf("Residency(%d).String() = %q, want %q", r, got, want)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	if opts.IndexResidency != OnDisk || opts.ExistsResidency != OnDisk {
		t.Errorf("expected DefaultOptions to use on-disk residency, got %+v", opts)
	}
	if opts.WriteThrough {
		t.Error("expected DefaultOptions.WriteThrough to be false")
	}
}
