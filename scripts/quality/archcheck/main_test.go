package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestViolationReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		importer string
		imported string
		want     string
	}{
		{
			name:     "public api importing internal",
			importer: "termsguard/pkg/termsguard",
			imported: "termsguard/internal/kernel",
			want:     "pkg/* must not import internal/*",
		},
		{
			name:     "module importing internal",
			importer: "termsguard/modules/terms",
			imported: "termsguard/internal/dispatcher",
			want:     "modules/* must not import internal/*",
		},
		{
			name:     "kernel importing driver",
			importer: "termsguard/internal/kernel",
			imported: "termsguard/internal/driver/httpapi",
			want:     "internal/kernel must not import internal/driver/*",
		},
		{
			name:     "storage importing cache layer",
			importer: "termsguard/internal/storage",
			imported: "termsguard/internal/cachestore",
			want:     "internal/storage must not import higher analysis layers",
		},
		{
			name:     "module importing public api",
			importer: "termsguard/modules/notify",
			imported: "termsguard/pkg/termsguard",
		},
		{
			name:     "command wiring internals",
			importer: "termsguard/cmd/termsguard",
			imported: "termsguard/internal/driver",
		},
		{
			name:     "third party import",
			importer: "termsguard/internal/storage",
			imported: "github.com/boltdb/bolt",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := violationReason(testCase.importer, testCase.imported)
			if got != testCase.want {
				t.Fatalf("violationReason() = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestCollectViolationsDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()

	packages := []listedPackage{
		{
			ImportPath:  "termsguard/modules/terms",
			Imports:     []string{"termsguard/internal/dispatcher", "termsguard/pkg/termsguard"},
			TestImports: []string{"termsguard/internal/dispatcher"},
		},
		{
			ImportPath:   "termsguard/internal/kernel",
			XTestImports: []string{"termsguard/internal/driver"},
		},
	}

	want := []string{
		"termsguard/internal/kernel -> termsguard/internal/driver (internal/kernel must not import internal/driver/*)",
		"termsguard/modules/terms -> termsguard/internal/dispatcher (modules/* must not import internal/*)",
	}
	if diff := cmp.Diff(want, collectViolations(packages)); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
}
