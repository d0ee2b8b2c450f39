package models

import "testing"

func TestCheckItem_Label(t *testing.T) {
	tests := []struct {
		name string
		item CheckItem
		want string
	}{
		{"named", CheckItem{Port: 22, Name: "ssh"}, "ssh"},
		{"unnamed", CheckItem{Port: 3389}, "port:3389"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDevice_DisplayName(t *testing.T) {
	if got := (Device{ID: "sw-01"}).DisplayName(); got != "sw-01" {
		t.Errorf("DisplayName() = %q, want %q", got, "sw-01")
	}
	if got := (Device{ID: "sw-01", Name: "Core switch"}).DisplayName(); got != "Core switch" {
		t.Errorf("DisplayName() = %q, want %q", got, "Core switch")
	}
}

func TestAffectedIPs(t *testing.T) {
	failures := []CheckFailure{
		{CheckName: "ssh", Port: 22, AttemptedIPs: []string{"10.0.0.1", "10.0.0.2"}},
		{CheckName: "http", Port: 80, AttemptedIPs: []string{"10.0.0.1"}},
	}
	if got := AffectedIPs(failures); got != 3 {
		t.Errorf("AffectedIPs() = %d, want 3", got)
	}
	if got := AffectedIPs(nil); got != 0 {
		t.Errorf("AffectedIPs(nil) = %d, want 0", got)
	}
}
