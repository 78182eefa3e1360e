package backend

import "testing"

func TestParsePermissionResponse(t *testing.T) {
	tests := []struct {
		in   string
		want PermissionResponse
	}{
		{"once", PermissionOnce},
		{"always", PermissionAlways},
		{"reject", PermissionReject},
		{"", PermissionReject},
		{"yes", PermissionReject},
		{"ONCE", PermissionReject}, // callers lowercase before parsing
	}
	for _, tt := range tests {
		if got := ParsePermissionResponse(tt.in); got != tt.want {
			t.Errorf("ParsePermissionResponse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
