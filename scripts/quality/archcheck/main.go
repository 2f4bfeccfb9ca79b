package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "termsguard/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr))
}

func run(stdout, stderr io.Writer) int {
	packages, err := listPackages(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "arch-check: %v\n", err)
		return 1
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintln(stdout, "arch-check: passed")
		return 0
	}

	_, _ = fmt.Fprintln(stdout, "arch-check: architecture violations:")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", violation)
	}

	return 1
}

// listPackages decodes `go list -json -test` output for the whole module.
func listPackages(stderr io.Writer) ([]listedPackage, error) {
	output, err := exec.Command("go", "list", "-json", "-test", "./...").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			_, _ = stderr.Write(exitErr.Stderr)
		}
		return nil, fmt.Errorf("go list: %w", err)
	}

	var packages []listedPackage
	for decoder := json.NewDecoder(bytes.NewReader(output)); ; {
		var pkg listedPackage
		err := decoder.Decode(&pkg)
		if errors.Is(err, io.EOF) {
			return packages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath != "" {
			packages = append(packages, pkg)
		}
	}
}

// collectViolations returns one sorted line per forbidden import edge,
// counting test imports too.
func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})
	for _, pkg := range packages {
		for _, imported := range slices.Concat(pkg.Imports, pkg.TestImports, pkg.XTestImports) {
			if reason := violationReason(pkg.ImportPath, imported); reason != "" {
				found[fmt.Sprintf("%s -> %s (%s)", pkg.ImportPath, imported, reason)] = struct{}{}
			}
		}
	}

	return slices.Sorted(maps.Keys(found))
}

type layerRule struct {
	importer string
	imported string
	reason   string
}

var layerRules = []layerRule{
	{importer: "pkg/", imported: "internal/", reason: "pkg/* must not import internal/*"},
	{importer: "pkg/", imported: "modules/", reason: "pkg/* must not import modules/*"},
	{importer: "modules/", imported: "internal/", reason: "modules/* must not import internal/*"},
	{importer: "internal/kernel", imported: "internal/driver", reason: "internal/kernel must not import internal/driver/*"},
	{importer: "internal/dispatcher", imported: "internal/driver", reason: "internal/dispatcher must not import internal/driver/*"},
	{importer: "internal/dispatcher", imported: "internal/kernel", reason: "internal/dispatcher must not import internal/kernel"},
	{importer: "internal/storage", imported: "internal/cachestore", reason: "internal/storage must not import higher analysis layers"},
	{importer: "internal/storage", imported: "internal/dispatcher", reason: "internal/storage must not import higher analysis layers"},
	{importer: "internal/backend", imported: "internal/dispatcher", reason: "internal/backend/* must not import internal/dispatcher"},
}

func violationReason(importer, imported string) string {
	for _, rule := range layerRules {
		if strings.HasPrefix(importer, modulePrefix+rule.importer) &&
			strings.HasPrefix(imported, modulePrefix+rule.imported) {
			return rule.reason
		}
	}

	return ""
}
