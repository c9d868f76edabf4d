package compiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
)

func TestEnsureSourceWritesPreludeAndBody(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/irrelevant/module/path")

	req := BuildRequest{
		FuncName: "square",
		Src:      "func square(n uint32) uint32 { return n * n }",
		FuncDir:  filepath.Join(dir, "square"),
	}

	path, err := d.EnsureSource(req)
	if err != nil {
		t.Fatalf("EnsureSource: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read generated source: %v", err)
	}
	got := string(data)

	if !strings.Contains(got, "package main") {
		t.Error("generated source missing package main")
	}
	if !strings.Contains(got, req.Src) {
		t.Error("generated source missing function body")
	}
	if !strings.Contains(got, "DO NOT EDIT") {
		t.Error("generated source missing generated-file marker")
	}
}

func TestEnsureSourceIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/irrelevant/module/path")
	req := BuildRequest{
		FuncName: "square",
		Src:      "func square(n uint32) uint32 { return n * n }",
		FuncDir:  filepath.Join(dir, "square"),
	}

	first, err := d.EnsureSource(req)
	if err != nil {
		t.Fatalf("first EnsureSource: %v", err)
	}
	second, err := d.EnsureSource(req)
	if err != nil {
		t.Fatalf("second EnsureSource: %v", err)
	}
	if first != second {
		t.Fatalf("path changed across calls: %s vs %s", first, second)
	}
}

func TestPrepareWorkspaceWritesReplaceDirective(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/host/module/root")
	groupDir := filepath.Join(dir, "__GLOBAL__")

	if err := d.prepareWorkspace(groupDir, "1.22"); err != nil {
		t.Fatalf("prepareWorkspace: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(groupDir, "go.mod"))
	if err != nil {
		t.Fatalf("read generated go.mod: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "replace github.com/ha1tch/pgo => /host/module/root") {
		t.Errorf("go.mod missing replace directive, got:\n%s", got)
	}
	if !strings.Contains(got, "go 1.22") {
		t.Errorf("go.mod missing go directive, got:\n%s", got)
	}
}

func TestMergeProfilesNoChunksReportsNoSamples(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/irrelevant")

	hadSamples, err := d.MergeProfiles(context.Background(), dir, filepath.Join(dir, "merged.profdata"))
	if err != nil {
		t.Fatalf("MergeProfiles: %v", err)
	}
	if hadSamples {
		t.Fatal("MergeProfiles reported samples in an empty directory")
	}
}

// writeFixtureProfile writes a minimal-but-valid pprof proto profile with
// one sample, the shape runtime/pprof's CPU profiler would itself emit.
func writeFixtureProfile(t *testing.T, path string, value int64) {
	t.Helper()
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
		Sample: []*profile.Sample{
			{Value: []int64{value}},
		},
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture profile: %v", err)
	}
	defer f.Close()
	if err := p.Write(f); err != nil {
		t.Fatalf("write fixture profile: %v", err)
	}
}

func TestMergeProfilesSingleChunkRoundTrips(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/irrelevant")

	writeFixtureProfile(t, filepath.Join(dir, "chunk-1.pprof"), 7)

	out := filepath.Join(dir, "merged.profdata")
	hadSamples, err := d.MergeProfiles(context.Background(), dir, out)
	if err != nil {
		t.Fatalf("MergeProfiles: %v", err)
	}
	if !hadSamples {
		t.Fatal("MergeProfiles reported no samples with one non-empty chunk present")
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open merged profile: %v", err)
	}
	defer f.Close()
	merged, err := profile.Parse(f)
	if err != nil {
		t.Fatalf("parse merged profile: %v", err)
	}
	if len(merged.Sample) != 1 || merged.Sample[0].Value[0] != 7 {
		t.Fatalf("merged profile samples = %+v, want one sample with value 7", merged.Sample)
	}
}

func TestMergeProfilesCombinesMultipleChunks(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/irrelevant")

	writeFixtureProfile(t, filepath.Join(dir, "chunk-1.pprof"), 3)
	writeFixtureProfile(t, filepath.Join(dir, "chunk-2.pprof"), 4)

	out := filepath.Join(dir, "merged.profdata")
	hadSamples, err := d.MergeProfiles(context.Background(), dir, out)
	if err != nil {
		t.Fatalf("MergeProfiles: %v", err)
	}
	if !hadSamples {
		t.Fatal("MergeProfiles reported no samples with two non-empty chunks present")
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open merged profile: %v", err)
	}
	defer f.Close()
	merged, err := profile.Parse(f)
	if err != nil {
		t.Fatalf("parse merged profile: %v", err)
	}

	var total int64
	for _, s := range merged.Sample {
		total += s.Value[0]
	}
	if total != 7 {
		t.Fatalf("merged sample total = %d, want 7", total)
	}
}

func TestMergeProfilesIgnoresEmptyChunks(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver("/irrelevant")

	if err := os.WriteFile(filepath.Join(dir, "chunk-1.pprof"), nil, 0644); err != nil {
		t.Fatalf("write empty fixture chunk: %v", err)
	}

	hadSamples, err := d.MergeProfiles(context.Background(), dir, filepath.Join(dir, "merged.profdata"))
	if err != nil {
		t.Fatalf("MergeProfiles: %v", err)
	}
	if hadSamples {
		t.Fatal("MergeProfiles should not count zero-byte chunks as samples")
	}
}
