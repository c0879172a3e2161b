package deskxfer

import (
	"errors"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("SendData", CodeOutOfMemory, "could not grow buffer")

	if err.Op != "SendData" {
		t.Errorf("Expected Op=SendData, got %s", err.Op)
	}
	if err.Code != CodeOutOfMemory {
		t.Errorf("Expected Code=CodeOutOfMemory, got %s", err.Code)
	}

	expected := "deskxfer: could not grow buffer (op=SendData)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestPeerError(t *testing.T) {
	err := NewPeerError("ReceiveData", "writer-task", CodeReceiverDied, "bounced")

	expected := "deskxfer: bounced (op=ReceiveData peer=writer-task)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestWrapErrorPreservesCodeOfInnerStructuredError(t *testing.T) {
	inner := NewError("readFile", CodeReadFail, "disk error")
	wrapped := WrapError("LoadLocalFile", CodeHostError, inner)

	if wrapped.Code != CodeReadFail {
		t.Errorf("Expected wrapped code to carry through, got %s", wrapped.Code)
	}
}

func TestWrapErrorNilIsNil(t *testing.T) {
	if WrapError("op", CodeHostError, nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("ReceiveData", CodeTimedOut, "deadline exceeded")

	if !IsCode(err, CodeTimedOut) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, CodeHostError) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, CodeTimedOut) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestErrorIsSupportsBareCode(t *testing.T) {
	err := NewError("op", CodeBufferOverflow, "overflow")
	if !errors.Is(err, CodeBufferOverflow) {
		t.Error("errors.Is should match against a bare ErrorCode")
	}
}

func TestIsTerminalWithoutError(t *testing.T) {
	if !IsTerminalWithoutError(CodeCancelled) {
		t.Error("Cancelled should be terminal-without-error")
	}
	if !IsTerminalWithoutError(CodeTimedOut) {
		t.Error("TimedOut should be terminal-without-error")
	}
	if IsTerminalWithoutError(CodeOutOfMemory) {
		t.Error("OutOfMemory should surface as a real error")
	}
}
