package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codeassess/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SessionNotFound, "Session not found"},
		{Busy, "Operation already in progress"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{MalformedCredential, 401},
		{SessionNotFound, 404},
		{Busy, 409},
		{CodeTooLarge, 413},
		{TooManyRequests, 429},
		{Forbidden, 403},
		{ServiceError, 502},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ServiceFailure(cause, "execution")

	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if err.Code != ServiceError {
		t.Errorf("Code = %v, want %v", err.Code, ServiceError)
	}
	if !err.Retryable() {
		t.Errorf("service errors should be retryable")
	}
	if err.Details["service"] != "execution" {
		t.Errorf("missing service detail: %v", err.Details)
	}
}

func TestWrapDoesNotMutateOriginal(t *testing.T) {
	original := New(Busy)
	wrapped := Wrap(original, SubmissionFailed)

	if original.Code != Busy {
		t.Errorf("original code changed to %v", original.Code)
	}
	if wrapped.Code != SubmissionFailed {
		t.Errorf("wrapped code = %v", wrapped.Code)
	}
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("start session: %w", New(MalformedCredential))

	if GetCode(err) != MalformedCredential {
		t.Errorf("GetCode() = %v", GetCode(err))
	}
	if !Is(err, MalformedCredential) {
		t.Errorf("Is() should see through fmt wrapping")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Errorf("plain errors map to InternalServerError")
	}
	if GetCode(nil) != Success {
		t.Errorf("nil maps to Success")
	}
}

func TestBusyError(t *testing.T) {
	err := BusyError("run")
	if err.Error() != "run already in progress" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !Is(err, Busy) {
		t.Errorf("expected Busy code")
	}
}
