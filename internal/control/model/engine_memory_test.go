package model

import (
	"testing"

	"github.com/danmuck/controld/internal/testutil/testlog"
)

func TestAddDepRejectsCycle(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	a, _ := eng.LoadService("a")
	b, _ := eng.LoadService("b")

	if err := eng.AddDep(a, b, DepRegular); err != nil {
		t.Fatalf("add a->b: %v", err)
	}
	if err := eng.AddDep(b, a, DepRegular); err != ErrCycle {
		t.Fatalf("expected ErrCycle for b->a, got %v", err)
	}
}

func TestStartCascadesToDependencies(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	base, _ := eng.LoadService("base")
	dependent, _ := eng.LoadService("dependent")
	if err := eng.AddDep(dependent, base, DepRegular); err != nil {
		t.Fatalf("add dep: %v", err)
	}

	if err := eng.StartService(dependent, false); err != nil {
		t.Fatalf("start dependent: %v", err)
	}
	if base.State != Started {
		t.Fatalf("expected base cascaded to started, got %v", base.State)
	}
	if len(base.Dependents) != 1 || base.Dependents[0] != dependent {
		t.Fatalf("expected base.Dependents to list dependent, got %v", base.Dependents)
	}
}

func TestRemDepStopsNowUnusedDependency(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	base, _ := eng.LoadService("base")
	dependent, _ := eng.LoadService("dependent")
	_ = eng.AddDep(dependent, base, DepRegular)
	_ = eng.StartService(dependent, false)

	if err := eng.RemDep(dependent, base, DepRegular); err != nil {
		t.Fatalf("rem dep: %v", err)
	}
	if base.State != Stopped {
		t.Fatalf("expected base stopped once its last dependent is removed, got %v", base.State)
	}
}

func TestPinnedStopBlocksStart(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	svc, _ := eng.LoadService("svc")
	_ = eng.StartService(svc, false)
	if err := eng.StopService(svc, true, false); err != nil {
		t.Fatalf("pin-stop: %v", err)
	}

	if err := eng.StartService(svc, false); err != ErrPinnedStop {
		t.Fatalf("expected ErrPinnedStop, got %v", err)
	}
}

func TestWakeRequiresActiveDependent(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	svc, _ := eng.LoadService("svc")
	if err := eng.WakeService(svc); err != ErrCannotWake {
		t.Fatalf("expected ErrCannotWake with no dependents, got %v", err)
	}
}

func TestStopServiceRestartDefersToCompleteRestart(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	svc, _ := eng.LoadService("svc")
	_ = eng.StartService(svc, false)

	if err := eng.StopService(svc, false, true); err != nil {
		t.Fatalf("restart stop: %v", err)
	}
	if svc.State != Starting || !svc.PendingRestart {
		t.Fatalf("expected Starting with PendingRestart set, got state=%v pending=%v", svc.State, svc.PendingRestart)
	}

	if err := eng.CompleteRestart(svc); err != nil {
		t.Fatalf("complete restart: %v", err)
	}
	if svc.State != Started || svc.PendingRestart {
		t.Fatalf("expected Started with PendingRestart cleared, got state=%v pending=%v", svc.State, svc.PendingRestart)
	}
}

func TestCompleteRestartRejectsWithoutPendingRestart(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	svc, _ := eng.LoadService("svc")
	if err := eng.CompleteRestart(svc); err != ErrRestartNotReady {
		t.Fatalf("expected ErrRestartNotReady, got %v", err)
	}
}

func TestSetEnvReportsOverride(t *testing.T) {
	testlog.Start(t)
	eng := NewMemoryEngine()
	first := eng.SetEnv("FOO=bar")
	if first.Overrode {
		t.Fatalf("expected first assignment to not be an override")
	}
	second := eng.SetEnv("FOO=baz")
	if !second.Overrode {
		t.Fatalf("expected second assignment to report an override")
	}
}
