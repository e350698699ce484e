package sycl

import (
	"errors"
	"testing"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

func TestParseImplementationType(t *testing.T) {
	t.Parallel()
	cases := map[string]ImplementationType{
		"":            AutomaticImplementation,
		"Automatic":   AutomaticImplementation,
		"dpcpp":       DPCPP,
		"icpx":        DPCPP,
		"adaptivecpp": AdaptiveCpp,
		"hipsycl":     AdaptiveCpp,
		" acpp ":      AdaptiveCpp,
	}
	for in, want := range cases {
		got, err := ParseImplementationType(in)
		if err != nil || got != want {
			t.Fatalf("ParseImplementationType(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseImplementationType("triSYCL"); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestParseKernelInvocationType(t *testing.T) {
	t.Parallel()
	var k KernelInvocationType
	if err := k.UnmarshalText([]byte("ND_RANGE")); err != nil || k != NDRange {
		t.Fatalf("UnmarshalText = %v, %v", k, err)
	}
	if b, _ := Hierarchical.MarshalText(); string(b) != "hierarchical" {
		t.Fatalf("MarshalText = %q", b)
	}
	if _, err := ParseKernelInvocationType("single_task"); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	cases := map[ImplementationType]string{
		AutomaticImplementation: "No SYCL backend available!",
		DPCPP:                   "No SYCL backend using DPC++ available!",
		AdaptiveCpp:             "No SYCL backend using AdaptiveCpp available!",
	}
	for impl, msg := range cases {
		err := Unavailable(impl)
		if !errors.Is(err, svmerr.ErrUnsupportedBackend) || err.Error() != msg {
			t.Fatalf("%s: %v", impl, err)
		}
	}
}
