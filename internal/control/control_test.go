package control

import (
	"errors"
	"testing"

	"github.com/orizon-lang/orizon-siteprof/internal/config"
	"github.com/orizon-lang/orizon-siteprof/internal/errorsx"
)

func defaultEnableSpec() config.EnableSpec {
	spec := config.DefaultEnableSpec()
	spec.RainyDayFund = 0 // keep unit tests free of a real reserve allocation

	return spec
}

func TestEnableRejectsOutOfRangeStackDepth(t *testing.T) {
	p := New(4, 4)

	spec := defaultEnableSpec()
	spec.StackDepth = 1

	err := p.Enable(spec)
	if err == nil {
		t.Fatal("expected an error for stack_depth below the minimum")
	}

	var perr *errorsx.ProfilerError
	if !errors.As(err, &perr) || perr.Category != errorsx.CategoryConfig {
		t.Errorf("got error %v, want a CategoryConfig ProfilerError", err)
	}
}

func TestEnableRejectsStackDepthAboveMax(t *testing.T) {
	p := New(4, 4)

	spec := defaultEnableSpec()
	spec.StackDepth = maxFrames + 1

	if err := p.Enable(spec); err == nil {
		t.Fatal("expected an error for stack_depth above maxFrames")
	}
}

func TestEnableTwiceWithoutForceFails(t *testing.T) {
	p := New(4, 4)

	if err := p.Enable(defaultEnableSpec()); err != nil {
		t.Fatalf("first Enable failed: %v", err)
	}

	err := p.Enable(defaultEnableSpec())
	if err == nil {
		t.Fatal("expected AlreadyEnabled on a second Enable without Force")
	}

	var perr *errorsx.ProfilerError
	if !errors.As(err, &perr) || perr.Category != errorsx.CategoryAlreadyEnabled {
		t.Errorf("got error %v, want CategoryAlreadyEnabled", err)
	}
}

func TestEnableWithForceTearsDownAndRebuilds(t *testing.T) {
	p := New(4, 4)

	if err := p.Enable(defaultEnableSpec()); err != nil {
		t.Fatalf("first Enable failed: %v", err)
	}

	genBefore := p.enableGeneration.Load()

	spec := defaultEnableSpec()
	spec.Force = true

	if err := p.Enable(spec); err != nil {
		t.Fatalf("forced re-Enable failed: %v", err)
	}

	if p.enableGeneration.Load() <= genBefore {
		t.Errorf("expected enable_generation to advance across a forced re-enable, got %d -> %d", genBefore, p.enableGeneration.Load())
	}

	if !p.enabled.Load() {
		t.Error("profiler should be enabled after a forced re-enable")
	}
}

func TestDisableWhenNotEnabledFails(t *testing.T) {
	p := New(4, 4)

	err := p.Disable()
	if err == nil {
		t.Fatal("expected AlreadyDisabled when disabling a never-enabled profiler")
	}

	var perr *errorsx.ProfilerError
	if !errors.As(err, &perr) || perr.Category != errorsx.CategoryAlreadyDisabled {
		t.Errorf("got error %v, want CategoryAlreadyDisabled", err)
	}
}

func TestDisableAfterEnableSucceeds(t *testing.T) {
	p := New(4, 4)

	if err := p.Enable(defaultEnableSpec()); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	if err := p.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	if p.enabled.Load() {
		t.Error("profiler should report disabled after Disable")
	}
}

func TestDumpWhenNotEnabledFails(t *testing.T) {
	p := New(4, 4)

	spec := config.DefaultDumpSpec()
	spec.DumpFile = "stdout"

	err := p.Dump(spec)
	if err == nil {
		t.Fatal("expected AlreadyDisabled when dumping a never-enabled profiler")
	}

	var perr *errorsx.ProfilerError
	if !errors.As(err, &perr) || perr.Category != errorsx.CategoryAlreadyDisabled {
		t.Errorf("got error %v, want CategoryAlreadyDisabled", err)
	}
}

func TestDumpAfterEnableSucceeds(t *testing.T) {
	p := New(4, 4)

	if err := p.Enable(defaultEnableSpec()); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	spec := config.DefaultDumpSpec()
	spec.DumpFile = "stdout"

	if err := p.Dump(spec); err != nil {
		t.Fatalf("Dump failed on an enabled profiler: %v", err)
	}
}

func TestEmergencyDumpRunsOnlyOnce(t *testing.T) {
	p := New(4, 4)

	spec := defaultEnableSpec()
	spec.RainyDayFund = 64

	if err := p.Enable(spec); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	dumpSpec := config.DefaultDumpSpec()
	dumpSpec.DumpFile = "stdout"
	dumpSpec.OnError = true

	if err := p.Dump(dumpSpec); err != nil {
		t.Fatalf("first emergency dump failed: %v", err)
	}

	err := p.Dump(dumpSpec)
	if err == nil {
		t.Fatal("expected a second emergency dump to fail")
	}

	var perr *errorsx.ProfilerError
	if !errors.As(err, &perr) || perr.Category != errorsx.CategoryEmergencyDumpRan {
		t.Errorf("got error %v, want CategoryEmergencyDumpRan", err)
	}
}

func TestProfileWhenNotEnabledFails(t *testing.T) {
	p := New(4, 4)

	if _, err := p.Profile(); err == nil {
		t.Fatal("expected AlreadyDisabled from Profile() on a never-enabled profiler")
	}
}

func TestProfileAfterEnableSucceeds(t *testing.T) {
	p := New(4, 4)

	if err := p.Enable(defaultEnableSpec()); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	prof, err := p.Profile()
	if err != nil {
		t.Fatalf("Profile failed on an enabled profiler: %v", err)
	}

	if prof == nil {
		t.Fatal("Profile returned a nil profile with no error")
	}
}

func TestInterposerExposesUnderlyingInterposer(t *testing.T) {
	p := New(4, 4)

	if p.Interposer() == nil {
		t.Fatal("Interposer() should never return nil")
	}
}
