package main

import (
	"errors"
	"testing"

	"pkt.systems/webbox/core"
)

func TestInterpreterErrorFromTraceback(t *testing.T) {
	stderr := "Traceback (most recent call last):\n" +
		"  File \"/tmp/webbox-inline-1/main.py\", line 3, in <module>\n" +
		"    print(x)\n" +
		"NameError: name 'x' is not defined\n"
	err := interpreterError(stderr, "main.py")
	var interp *core.InterpreterError
	if !errors.As(err, &interp) {
		t.Fatalf("expected InterpreterError, got %T", err)
	}
	if interp.File != "main.py" || interp.Line != 3 {
		t.Fatalf("unexpected position %s:%d", interp.File, interp.Line)
	}
	if interp.Name != "NameError" || interp.Message != "name 'x' is not defined" {
		t.Fatalf("unexpected error %q %q", interp.Name, interp.Message)
	}
}

func TestInterpreterErrorWithoutTraceback(t *testing.T) {
	err := interpreterError("Segmentation fault\n", "main.py")
	var interp *core.InterpreterError
	if !errors.As(err, &interp) {
		t.Fatalf("expected InterpreterError, got %T", err)
	}
	if interp.Name != "" || interp.Message != "Segmentation fault" || interp.File != "main.py" {
		t.Fatalf("unexpected error %+v", interp)
	}
}
