package common

import (
	"reflect"
	"testing"
)

func TestDistinctDomains(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		sans    []string
		want    []string
	}{
		{
			name:    "primary only",
			primary: "example.com",
			want:    []string{"example.com"},
		},
		{
			name:    "primary plus sans",
			primary: "example.com",
			sans:    []string{"www.example.com", "api.example.com"},
			want:    []string{"example.com", "www.example.com", "api.example.com"},
		},
		{
			name:    "case and whitespace normalized",
			primary: " Example.COM ",
			sans:    []string{"WWW.example.com"},
			want:    []string{"example.com", "www.example.com"},
		},
		{
			name:    "duplicates collapse keeping first appearance",
			primary: "example.com",
			sans:    []string{"www.example.com", "example.com", "www.example.com"},
			want:    []string{"example.com", "www.example.com"},
		},
		{
			name:    "empty entries dropped",
			primary: "",
			sans:    []string{"", "  ", "example.com"},
			want:    []string{"example.com"},
		},
		{
			name:    "fully empty",
			primary: "",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &CertRequestConfig{
				PrimaryDomain:           tt.primary,
				SubjectAlternativeNames: tt.sans,
			}
			got := config.DistinctDomains()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DistinctDomains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPendingAuthorizationIsPending(t *testing.T) {
	if (&PendingAuthorization{}).IsPending() {
		t.Error("authorization without identifier is not pending")
	}
	pending := &PendingAuthorization{Identifier: &Identifier{Status: IdentifierStatusPending}}
	if !pending.IsPending() {
		t.Error("pending identifier should report pending")
	}
	valid := &PendingAuthorization{Identifier: &Identifier{Status: IdentifierStatusValid}}
	if valid.IsPending() {
		t.Error("valid identifier is not pending")
	}
}
