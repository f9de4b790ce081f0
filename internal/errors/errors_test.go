package errors

import (
	"bytes"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"testing"
)

func TestWrapKeepsCodeAcrossLayers(t *testing.T) {
	cause := stdErrors.New("rpc timeout")
	err := fmt.Errorf("outer: %w", Wrap(CodeDeploymentFailure, cause, "deploy Vault"))

	if got := CodeOf(err); got != CodeDeploymentFailure {
		t.Fatalf("unexpected code: %s", got)
	}
	if !HasCode(err, CodeDeploymentFailure) {
		t.Fatal("expected HasCode to match")
	}
	if HasCode(err, CodeVerificationFailure) {
		t.Fatal("unexpected match for verification code")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !RetryableError(err) {
		t.Fatal("deployment failures should be retryable by default")
	}
}

func TestOptionsOverrideRegistry(t *testing.T) {
	err := New(CodeDeploymentFailure, "", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo), WithMetadata("contract", "Vault"))
	if err.Message() != "contract deployment failed" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Retryable() || err.ShouldAlert() {
		t.Fatal("expected overrides to disable retry and alert")
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if err.Metadata()["contract"] != "Vault" {
		t.Fatalf("unexpected metadata %+v", err.Metadata())
	}
}

func TestUnknownCodeFallsBack(t *testing.T) {
	if attr := AttributesOf("NOPE"); attr.Message != "unknown error" {
		t.Fatalf("unexpected fallback %+v", attr)
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors should map to UNKNOWN")
	}
}

func TestLogValueGroupsFields(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	err := Wrap(CodeVerificationFailure, stdErrors.New("code mismatch"), "verify Vault",
		WithMetadata("network", "polygon"), WithMetadata("contract", "Vault"))
	l.Info("failed", slog.Any("error", err))

	var entry struct {
		Error map[string]string `json:"error"`
	}
	if jsonErr := json.Unmarshal(buf.Bytes(), &entry); jsonErr != nil {
		t.Fatalf("decode: %v", jsonErr)
	}
	if entry.Error["code"] != string(CodeVerificationFailure) || entry.Error["contract"] != "Vault" || entry.Error["cause"] != "code mismatch" {
		t.Fatalf("unexpected log group %+v", entry.Error)
	}
}

func TestAnnotate(t *testing.T) {
	coded := New(CodeMissingInputField, "missing Vault")
	if got := Annotate(coded, "field", "Vault"); CodeOf(got) != CodeMissingInputField {
		t.Fatalf("annotate changed code to %s", CodeOf(got))
	}
	if coded.Metadata()["field"] != "Vault" {
		t.Fatalf("metadata not attached: %+v", coded.Metadata())
	}
	plain := Annotate(stdErrors.New("boom"), "task", "x")
	if e, ok := From(plain); !ok || e.Metadata()["task"] != "x" {
		t.Fatalf("plain error not wrapped: %v", plain)
	}
	if Annotate(nil, "k", "v") != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestExitCode(t *testing.T) {
	cases := map[error]int{
		nil:                                        ExitOK,
		New(CodeInvalidArgument, ""):               ExitUsage,
		New(CodeMissingInputField, ""):             ExitInput,
		New(CodeDeploymentFailure, ""):             ExitDeployment,
		New(CodeVerificationFailure, ""):           ExitVerification,
		New(CodeNetworkFailure, ""):                ExitUnavailable,
		fmt.Errorf("x: %w", New(CodeReadOnly, "")): ExitInput,
		stdErrors.New("plain"):                     ExitFailure,
	}
	for err, want := range cases {
		if got := ExitCode(err); got != want {
			t.Fatalf("ExitCode(%v) = %d, want %d", err, got, want)
		}
	}
}
