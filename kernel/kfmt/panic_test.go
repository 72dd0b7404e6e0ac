package kfmt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unsafe"

	"nucleuskernel/kernel"
	"nucleuskernel/kernel/cpu"
)

// resetPanicSeams replaces the architecture-backed register readers with
// deterministic stand-ins and restores everything once the test finishes.
func resetPanicSeams(t *testing.T) *bytes.Buffer {
	t.Helper()

	origHalt := cpuHaltFn
	origDisable := disableInterruptsFn
	t.Cleanup(func() {
		cpuHaltFn = origHalt
		disableInterruptsFn = origDisable
		readCR0Fn = cpu.ReadCR0
		readCR2Fn = cpu.ReadCR2
		readCR3Fn = cpu.ActivePDT
		readCR4Fn = cpu.ReadCR4
		readRBPFn = cpu.ReadRBP
		panicking = false
		SetOutputSink(nil)
	})

	cpuHaltFn = func() {}
	disableInterruptsFn = func() {}
	readCR0Fn = func() uint64 { return 0x80000011 }
	readCR2Fn = func() uint64 { return 0xbadf00d000 }
	readCR3Fn = func() uintptr { return 0x1000 }
	readCR4Fn = func() uint64 { return 0x20 }
	readRBPFn = func() uintptr { return 0 }
	panicking = false

	var buf bytes.Buffer
	SetOutputSink(&buf)
	return &buf
}

func TestPanic(t *testing.T) {
	t.Run("with *kernel.Error", func(t *testing.T) {
		buf := resetPanicSeams(t)

		var cpuHaltCalled bool
		cpuHaltFn = func() { cpuHaltCalled = true }

		Panic(&kernel.Error{Module: "test", Message: "panic test"})

		got := buf.String()
		for _, exp := range []string{
			"[test] unrecoverable error: panic test",
			"panic_test.go",
			"CR0 = 0000000080000011 CR2 = 000000badf00d000",
			"CR3 = 0000000000001000 CR4 = 0000000000000020",
			"Stack trace:",
			"*** kernel panic: system halted ***",
		} {
			if !strings.Contains(got, exp) {
				t.Errorf("expected panic output to contain %q; got:\n%q", exp, got)
			}
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})

	t.Run("with error", func(t *testing.T) {
		buf := resetPanicSeams(t)

		Panic(errors.New("go error"))

		if got := buf.String(); !strings.Contains(got, "[rt] unrecoverable error: go error") {
			t.Fatalf("unexpected panic output:\n%q", got)
		}
	})

	t.Run("with string", func(t *testing.T) {
		buf := resetPanicSeams(t)

		Panic("string error")

		if got := buf.String(); !strings.Contains(got, "[rt] unrecoverable error: string error") {
			t.Fatalf("unexpected panic output:\n%q", got)
		}
	})

	t.Run("without error", func(t *testing.T) {
		buf := resetPanicSeams(t)

		Panic(nil)

		got := buf.String()
		if strings.Contains(got, "unrecoverable error") {
			t.Fatalf("expected no error line for a nil panic value; got:\n%q", got)
		}
		if !strings.Contains(got, "*** kernel panic: system halted ***") {
			t.Fatalf("unexpected panic output:\n%q", got)
		}
	})
}

func TestDoublePanicGuard(t *testing.T) {
	buf := resetPanicSeams(t)

	var interruptsDisabled, halted bool
	disableInterruptsFn = func() { interruptsDisabled = true }
	cpuHaltFn = func() { halted = true }

	panicking = true
	Panic(&kernel.Error{Module: "test", Message: "second failure"})

	got := buf.String()
	if !strings.Contains(got, "double panic") {
		t.Errorf("expected a terse double-panic notice; got:\n%q", got)
	}
	if strings.Contains(got, "Stack trace:") {
		t.Error("a double panic must not attempt a full dump")
	}
	if !interruptsDisabled || !halted {
		t.Error("expected a double panic to halt with interrupts disabled")
	}
}

func TestStackTraceBounds(t *testing.T) {
	buf := resetPanicSeams(t)

	t.Cleanup(func() {
		readFramePointerFn = func(addr uintptr) uintptr {
			return *(*uintptr)(unsafe.Pointer(addr))
		}
	})

	// Fake stack: a chain of frames starting at 0x200000 where frame N
	// links to frame N+0x10 and every return address is 0x400000+N.
	readFramePointerFn = func(addr uintptr) uintptr {
		base := addr &^ uintptr(0xF)
		if addr&0xF == 8 {
			return 0x400000 + (base-0x200000)/0x10
		}
		return base + 0x10
	}

	StackTrace(0x200000)

	got := buf.String()
	if lines := strings.Count(got, " #"); lines != maxTraceFrames {
		t.Errorf("expected the trace to stop after %d frames; got %d", maxTraceFrames, lines)
	}

	// A frame pointer below 1 MiB must terminate the walk immediately.
	buf.Reset()
	StackTrace(0x1000)
	if got := buf.String(); strings.Count(got, " #") != 0 {
		t.Errorf("expected no frames for an implausible frame pointer; got:\n%q", got)
	}
}
