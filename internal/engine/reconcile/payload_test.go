package reconcile

import (
	"encoding/json"
	"testing"

	"idsync/internal/pkg/errors"
)

func TestUserPayloadAutologinDefault(t *testing.T) {
	var p UserPayload
	err := json.Unmarshal([]byte(`{"preferred_username":"jane","organizations":[]}`), &p)
	if err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if !p.UseAutologin {
		t.Error("Expected use_autologin to default to true")
	}
	if p.Has("email") {
		t.Error("Expected absent email key to not be present")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected valid payload, got %v", err)
	}

	var explicit UserPayload
	err = json.Unmarshal([]byte(`{"preferred_username":"jane","organizations":[],"use_autologin":false}`), &explicit)
	if err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if explicit.UseAutologin {
		t.Error("Expected explicit use_autologin false to stick")
	}
}

func TestUserPayloadValidateMissing(t *testing.T) {
	var p UserPayload
	if err := json.Unmarshal([]byte(`{"email":"j@example.com"}`), &p); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	err := p.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var ve *errors.ValidationError
	if !errors.IsValidation(err) {
		t.Fatalf("Expected ValidationError, got %T", err)
	}
	ve = err.(*errors.ValidationError)
	if len(ve.Missing) != 2 || ve.Missing[0] != "organizations" || ve.Missing[1] != "preferred_username" {
		t.Errorf("Expected [organizations preferred_username], got %v", ve.Missing)
	}
}

func TestOrganizationPayloadValidateEntitlementFields(t *testing.T) {
	var p OrganizationPayload
	raw := `{"uuid":"o1","slug":"newsroom","max_users":5,"individual":false,
		"entitlements":[{"name":"Pro","slug":"pro","resources":{}}]}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	err := p.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	ve := err.(*errors.ValidationError)

	want := []string{"entitlements.description", "entitlements.update_on", "name"}
	if len(ve.Missing) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ve.Missing)
	}
	for i := range want {
		if ve.Missing[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, ve.Missing)
			break
		}
	}
}

func TestEntitlementUpdateDate(t *testing.T) {
	date := "2024-03-05"
	p := &EntitlementPayload{Slug: "pro", UpdateOn: &date}
	got := p.UpdateDate()
	if got == nil || *got != "2024-03-05" {
		t.Errorf("Expected 2024-03-05, got %v", got)
	}

	p = &EntitlementPayload{Slug: "pro"}
	if got := p.UpdateDate(); got != nil {
		t.Errorf("Expected nil for absent update_on, got %v", *got)
	}

	bad := "not-a-date"
	p = &EntitlementPayload{Slug: "pro", UpdateOn: &bad}
	if got := p.UpdateDate(); got != nil {
		t.Errorf("Expected nil for unparsable update_on, got %v", *got)
	}
}
