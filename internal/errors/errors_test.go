package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, cause, "写入失败"))

	if CodeOf(err) != CodeStorageFailure {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected code comparison through errors.Is")
	}
	if !RetryableError(err) {
		t.Fatalf("storage failures should be retryable by default")
	}
}

func TestRetryableOverride(t *testing.T) {
	err := New(CodeStorageFailure, "", WithRetryable(false))
	if err.Retryable() {
		t.Fatalf("override should disable retries")
	}
	if err.Message() != "storage failure" {
		t.Fatalf("empty message should fall back to registry: %q", err.Message())
	}
}

func TestRegisterCustomCode(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityInfo, Retryable: true})

	err := New(code, "")
	if !err.Retryable() || err.Severity() != SeverityInfo || err.Message() != "custom" {
		t.Fatalf("registered attributes not applied: %+v", AttributesOf(code))
	}
	if AttributesOf("NOT_REGISTERED").Message != AttributesOf(CodeUnknown).Message {
		t.Fatalf("unregistered code should fall back to UNKNOWN")
	}
}

func TestFromPlainError(t *testing.T) {
	if _, ok := From(stdErrors.New("plain")); ok {
		t.Fatalf("plain error should not convert")
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatalf("nil error should map to UNKNOWN")
	}
	if SeverityOf(New(CodeMissingCredential, "")) != SeverityWarning {
		t.Fatalf("unexpected severity")
	}
}

func TestCodeForStatusPrefersNarrowestRange(t *testing.T) {
	const (
		broad  Code = "TEST_STATUS_BROAD"
		narrow Code = "TEST_STATUS_NARROW"
		server Code = "TEST_STATUS_SERVER"
	)
	RegisterStatusRange(1400, 1499, broad)
	RegisterStatusRange(1429, 1429, narrow)
	RegisterStatusRange(1599, 1500, server)

	cases := map[int]Code{
		1400: broad,
		1429: narrow,
		1450: broad,
		1503: server,
		1300: CodeUnknown,
	}
	for status, want := range cases {
		if got := CodeForStatus(status, CodeUnknown); got != want {
			t.Fatalf("status %d: expected %s, got %s", status, want, got)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	const code Code = "TEST_HTTP_STATUS"
	Register(code, Attributes{Message: "teapot", HTTPStatus: http.StatusTeapot})

	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{New(CodeInvalidArgument, "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", New(CodeNotFound, "")), http.StatusNotFound},
		{New(code, ""), http.StatusTeapot},
		{New("TEST_NO_STATUS", ""), http.StatusInternalServerError},
		{Wrap(CodeStorageFailure, context.DeadlineExceeded, "slow"), http.StatusGatewayTimeout},
		{stdErrors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestLateRegistrationReachesEarlierErrors(t *testing.T) {
	const code Code = "TEST_LATE"
	sentinel := New(code, "")
	Register(code, Attributes{Message: "registered later", Retryable: true})
	if sentinel.Message() != "registered later" || !sentinel.Retryable() {
		t.Fatalf("sentinel should read attributes lazily: %q", sentinel.Error())
	}
	if sentinel.Error() != "[TEST_LATE] registered later" {
		t.Fatalf("unexpected text: %q", sentinel.Error())
	}
}
