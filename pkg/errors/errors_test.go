package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
		{code: CodeEmptyCart, status: http.StatusBadRequest},
		{code: CodeInsufficientStock, status: http.StatusConflict, detailsOK: true},
		{code: CodePriceChanged, status: http.StatusConflict, detailsOK: true},
		{code: CodeInvalidOrderState, status: http.StatusConflict, detailsOK: true},
		{code: CodeGateway, status: http.StatusBadGateway, retryable: true},
		{code: CodeInvalidSignature, status: http.StatusUnauthorized},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, retryable: true},
		{code: CodeIdempotency, status: http.StatusConflict},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestAsFindsWrappedTypedError(t *testing.T) {
	base := New(CodeGateway, "create invoice")
	wrapped := fmt.Errorf("payments: %w", base)

	typed := As(wrapped)
	if typed == nil || typed.Code() != CodeGateway {
		t.Fatalf("expected gateway error, got %v", typed)
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("gateway errors should be retryable")
	}
	if IsRetryable(New(CodePriceChanged, "stale")) {
		t.Fatalf("price changes should not be retryable")
	}
	if !HasCode(wrapped, CodeGateway) {
		t.Fatalf("HasCode should see through wrapping")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeDependency, cause, "load order")
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
}
