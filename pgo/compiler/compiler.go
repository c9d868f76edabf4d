// Package compiler drives the external native compiler the framework
// uses to turn a candidate function's source into a loadable shared
// object: the Go toolchain itself, invoked out-of-process exactly the way
// a C/C++ PGO pipeline shells out to clang/gcc.
//
// "Instrumented" and "optimized" builds differ only in whether a merged
// profile is handed to the compiler via -pgo; Go's own PGO support
// (stable since Go 1.21) is the framework's "profile-use" compiler mode.
package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/pprof/profile"

	"github.com/ha1tch/pgo/pgo/abi"
)

// MergeProfiles collapses every pprof chunk written into profileDir
// (see pgo/profiler) into a single merged profile at outPath, the
// framework's realization of the "profmerge -o G/merged.profdata
// G/profile_data/" step in §4.3. It uses github.com/google/pprof/profile
// directly — the same library `go tool pprof` itself is built on — rather
// than shelling out to a `go tool pprof` subprocess, since the whole
// merge is one in-process parse-and-sum over already-trusted data.
//
// hadSamples reports whether any non-empty chunk was found. An Optimized
// request whose GatheringData window produced no samples (a function
// called too briefly for even one profiling window to close) has
// nothing to guide a profile-driven build with; the caller treats
// hadSamples == false as a compilation failure rather than silently
// emitting an unoptimized artifact mislabeled "optimized".
func (d *Driver) MergeProfiles(ctx context.Context, profileDir, outPath string) (hadSamples bool, err error) {
	matches, err := filepath.Glob(filepath.Join(profileDir, "chunk-*.pprof"))
	if err != nil {
		return false, fmt.Errorf("glob profile chunks: %w", err)
	}

	var profiles []*profile.Profile
	for _, m := range matches {
		info, statErr := os.Stat(m)
		if statErr != nil || info.Size() == 0 {
			continue
		}
		f, openErr := os.Open(m)
		if openErr != nil {
			return false, fmt.Errorf("open profile chunk %s: %w", m, openErr)
		}
		p, parseErr := profile.Parse(f)
		f.Close()
		if parseErr != nil {
			return false, fmt.Errorf("parse profile chunk %s: %w", m, parseErr)
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return false, nil
	}

	merged, err := profile.Merge(profiles)
	if err != nil {
		return false, fmt.Errorf("merge %d profile chunks: %w", len(profiles), err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return false, fmt.Errorf("create merged profile: %w", err)
	}
	defer out.Close()

	if err := merged.Write(out); err != nil {
		return false, fmt.Errorf("write merged profile: %w", err)
	}
	return true, nil
}

// BuildRequest describes one compilation: the candidate function's
// identity and source, and the two workspace directories involved (F,
// the function's own directory holding func_src.go, and G, the
// per-group directory the resulting .so is written into).
type BuildRequest struct {
	FuncName string
	Src      string
	Edition  abi.Edition
	FuncDir  string
	GroupDir string
}

// Driver builds plugin workspaces and invokes `go build -buildmode=plugin`
// against them, grounded on the same prepareWorkspace/compilePlugin split
// the host module's own JIT subsystem uses for its SQL procedures.
type Driver struct {
	GoPath        string
	ModulePath    string // absolute path to this module's root
	ModuleVersion string
	BuildTags     string
	Timeout       time.Duration
}

// NewDriver returns a Driver with sensible defaults; ModulePath must be
// supplied by the caller (the host process's own module root) so the
// generated go.mod's replace directive resolves to identical package
// instances as the host.
func NewDriver(modulePath string) *Driver {
	return &Driver{
		GoPath:        "go",
		ModulePath:    modulePath,
		ModuleVersion: "v0.0.0",
		Timeout:       2 * time.Minute,
	}
}

// EnsureSource writes func_src.go into req.FuncDir, overwriting any
// existing copy. The worker calls this for every Initial request; the
// file is shared by every group's workspace for that function, since the
// source never changes across groups.
func (d *Driver) EnsureSource(req BuildRequest) (string, error) {
	if err := os.MkdirAll(req.FuncDir, 0755); err != nil {
		return "", fmt.Errorf("create function directory: %w", err)
	}

	path := filepath.Join(req.FuncDir, "func_src.go")
	src := fmt.Sprintf(`// Code generated by the PGO framework. DO NOT EDIT.
// Candidate: %s
package main

%s
`, req.FuncName, req.Src)

	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		return "", fmt.Errorf("write function source: %w", err)
	}
	return path, nil
}

// prepareWorkspace creates a group's build directory and a go.mod that
// replaces this module with the host's own checkout, so that any shared
// types referenced by the candidate function's source resolve to the
// exact same package instance on both sides of the plugin boundary. The
// go directive is set from edition, the Go realization of the spec's
// per-function "compiler edition" (§1).
func (d *Driver) prepareWorkspace(groupDir string, edition abi.Edition) error {
	if err := os.MkdirAll(groupDir, 0755); err != nil {
		return fmt.Errorf("create group directory: %w", err)
	}
	if edition == "" {
		edition = abi.DefaultEdition
	}

	goMod := fmt.Sprintf(`module pgocandidate

go %s

require github.com/ha1tch/pgo %s

replace github.com/ha1tch/pgo => %s
`, edition, d.ModuleVersion, d.ModulePath)

	return os.WriteFile(filepath.Join(groupDir, "go.mod"), []byte(goMod), 0644)
}

// Initial builds the instrumented artifact: the same plugin that will
// eventually be built with -pgo, just without it. Actual instrumentation
// (profile collection) happens at the process level via pgo/profiler,
// not via a special compiler flag, since runtime/pprof profiles the host
// binary rather than an individually loaded plugin.
func (d *Driver) Initial(ctx context.Context, req BuildRequest, sourceFile string) (string, error) {
	if err := d.prepareWorkspace(req.GroupDir, req.Edition); err != nil {
		return "", err
	}
	return d.build(ctx, req, sourceFile, "instrumented.so", "")
}

// Optimized builds the profile-guided artifact, feeding the merged
// training profile to the compiler via -pgo.
func (d *Driver) Optimized(ctx context.Context, req BuildRequest, sourceFile, mergedProfile string) (string, error) {
	if err := d.prepareWorkspace(req.GroupDir, req.Edition); err != nil {
		return "", err
	}
	return d.build(ctx, req, sourceFile, "optimized.so", mergedProfile)
}

func (d *Driver) build(ctx context.Context, req BuildRequest, sourceFile, outName, pgoFile string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	soPath := filepath.Join(req.GroupDir, outName)

	args := []string{"build", "-buildmode=plugin"}
	if pgoFile != "" {
		args = append(args, "-pgo="+pgoFile)
	}
	if d.BuildTags != "" {
		args = append(args, "-tags", d.BuildTags)
	}
	args = append(args, "-o", soPath, sourceFile)

	cmd := exec.CommandContext(ctx, d.GoPath, args...)
	cmd.Dir = req.GroupDir
	cmd.Env = append(os.Environ(),
		"GOPROXY=off",
		"GOFLAGS=-mod=mod",
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		errLog := filepath.Join(req.GroupDir, outName+".log")
		os.WriteFile(errLog, output, 0644)
		return "", fmt.Errorf("go build failed for %s: %w (see %s)", req.FuncName, err, errLog)
	}

	return soPath, nil
}
