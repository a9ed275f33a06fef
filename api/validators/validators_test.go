package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
)

type overridePayload struct {
	Limit  *int64 `json:"limit" validate:"required,gte=-1"`
	Reason string `json:"reason" validate:"max=5"`
}

func TestDecodeJSONBodyReportsFieldMessages(t *testing.T) {
	req := httptest.NewRequest("PUT", "/", strings.NewReader(`{"limit":-2,"reason":"far too long"}`))
	var payload overridePayload
	err := DecodeJSONBody(req, &payload)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details type %T", typed.Details())
	}
	if details["limit"] != "must be greater than or equal to -1" {
		t.Fatalf("unexpected limit message %q", details["limit"])
	}
	if details["reason"] != "must be at most 5" {
		t.Fatalf("unexpected reason message %q", details["reason"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("PUT", "/", strings.NewReader(`{"limit":1,"extra":true}`))
	var payload overridePayload
	if err := DecodeJSONBody(req, &payload); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestDecodeJSONBodyAcceptsZeroPointer(t *testing.T) {
	req := httptest.NewRequest("PUT", "/", strings.NewReader(`{"limit":0}`))
	var payload overridePayload
	if err := DecodeJSONBody(req, &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Limit == nil || *payload.Limit != 0 {
		t.Fatalf("limit not decoded: %v", payload.Limit)
	}
}

func TestQueryParsing(t *testing.T) {
	req := httptest.NewRequest("GET", "/?schools=12&renewal=true&currency=%20usd%20", nil)

	schools, err := ParseQueryInt(req, "schools", 1, 1, 100)
	if err != nil || schools != 12 {
		t.Fatalf("schools = %d, %v", schools, err)
	}
	if _, err := ParseQueryInt(req, "schools", 1, 1, 10); err == nil {
		t.Fatal("expected out of range error")
	}
	missing, err := ParseQueryInt(req, "page", 7, 1, 10)
	if err != nil || missing != 7 {
		t.Fatalf("default not applied: %d, %v", missing, err)
	}

	renewal, err := ParseQueryBool(req, "renewal", false)
	if err != nil || !renewal {
		t.Fatalf("renewal = %v, %v", renewal, err)
	}
	if got := ParseQueryString(req, "currency", 2); got != "us" {
		t.Fatalf("currency = %q", got)
	}
}

func TestDecodeJSONBodyRejectsEmptyAndTrailingInput(t *testing.T) {
	var payload overridePayload
	empty := httptest.NewRequest("PUT", "/", strings.NewReader(""))
	if err := DecodeJSONBody(empty, &payload); err == nil || pkgerrors.As(err).Message() != "request body required" {
		t.Fatalf("unexpected error for empty body: %v", err)
	}
	trailing := httptest.NewRequest("PUT", "/", strings.NewReader(`{"limit":1}{"limit":2}`))
	if err := DecodeJSONBody(trailing, &payload); err == nil {
		t.Fatal("expected trailing object to be rejected")
	}
}

func TestSanitizeStringCountsRunes(t *testing.T) {
	if got := SanitizeString("  école  ", 3); got != "éco" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeString(" as is ", 0); got != "as is" {
		t.Fatalf("got %q", got)
	}
}
