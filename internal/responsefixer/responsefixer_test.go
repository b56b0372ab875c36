package responsefixer

import (
	"github.com/tidwall/gjson"
	"testing"
)

func TestNormalizeStopReason(t *testing.T) {
	body := []byte(`{"stop_reason":"stop","other":1}`)
	fixed, rewrites := Fix(body, Options{NormalizeStopReason: true})
	if gjson.GetBytes(fixed, "stop_reason").String() != "end_turn" {
		t.Fatalf("expected normalized stop_reason, got %s", fixed)
	}
	if len(rewrites) != 1 || rewrites[0].Field != "stop_reason" {
		t.Fatalf("expected one recorded rewrite, got %+v", rewrites)
	}
	if gjson.GetBytes(fixed, "other").Int() != 1 {
		t.Fatal("expected unrelated fields to pass through unchanged")
	}
}

func TestNormalizeStopReasonNoopWhenAlreadyCanonical(t *testing.T) {
	body := []byte(`{"stop_reason":"end_turn"}`)
	_, rewrites := Fix(body, Options{NormalizeStopReason: true})
	if len(rewrites) != 0 {
		t.Fatalf("expected no rewrite for already-canonical value, got %+v", rewrites)
	}
}

func TestFillServiceTierWhenMissing(t *testing.T) {
	body := []byte(`{"id":"msg_1"}`)
	fixed, rewrites := Fix(body, Options{FillServiceTier: true})
	if gjson.GetBytes(fixed, "service_tier").String() != "standard" {
		t.Fatalf("expected service_tier filled, got %s", fixed)
	}
	if len(rewrites) != 1 {
		t.Fatalf("expected one rewrite, got %+v", rewrites)
	}
}

func TestFillServiceTierNoopWhenPresent(t *testing.T) {
	body := []byte(`{"service_tier":"priority"}`)
	fixed, rewrites := Fix(body, Options{FillServiceTier: true})
	if gjson.GetBytes(fixed, "service_tier").String() != "priority" {
		t.Fatal("expected existing service_tier to be preserved")
	}
	if len(rewrites) != 0 {
		t.Fatalf("expected no rewrite, got %+v", rewrites)
	}
}

func TestLiftUsageSubkeys(t *testing.T) {
	body := []byte(`{"usage":{"cache_creation_input_tokens":12}}`)
	fixed, rewrites := Fix(body, Options{LiftUsageSubkeys: true})
	if gjson.GetBytes(fixed, "usage.cache_creation.ephemeral_5m_input_tokens").Int() != 12 {
		t.Fatalf("expected lifted subkey, got %s", fixed)
	}
	if gjson.GetBytes(fixed, "usage.cache_creation_input_tokens").Exists() {
		t.Fatal("expected legacy key removed")
	}
	if len(rewrites) != 1 {
		t.Fatalf("expected one rewrite, got %+v", rewrites)
	}
}

func TestNoOptionsLeavesBodyUntouched(t *testing.T) {
	body := []byte(`{"stop_reason":"stop"}`)
	fixed, rewrites := Fix(body, Options{})
	if string(fixed) != string(body) {
		t.Fatalf("expected untouched body, got %s", fixed)
	}
	if len(rewrites) != 0 {
		t.Fatalf("expected no rewrites, got %+v", rewrites)
	}
}
