package marker

import "testing"

func TestMakeDeterministic(t *testing.T) {
	a := Make("req-1", "secret-a")
	b := Make("req-1", "secret-a")
	if a != b {
		t.Fatalf("Make should be deterministic for fixed (rid, secret): %q != %q", a, b)
	}
}

func TestMakeDiffersAcrossInputs(t *testing.T) {
	if Make("req-1", "secret-a") == Make("req-2", "secret-a") {
		t.Fatal("different request ids must not produce the same marker")
	}
	if Make("req-1", "secret-a") == Make("req-1", "secret-b") {
		t.Fatal("different secrets must not produce the same marker")
	}
}

func TestVerify(t *testing.T) {
	line := Make("req-42", "topsecret")
	if !Verify(line, "req-42", "topsecret") {
		t.Fatal("Verify should accept the line it generated")
	}
	if Verify(line, "req-42", "wrong-secret") {
		t.Fatal("Verify should reject a mismatched secret")
	}
	if Verify(line, "req-43", "topsecret") {
		t.Fatal("Verify should reject a mismatched request id")
	}
}

func TestIsMarkerLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"well-formed marker", Make("req-1", "s"), true},
		{"plain text", "hello world", false},
		{"marker with trailing text", Make("req-1", "s") + " extra", false},
		{"empty string", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarkerLine(tt.input); got != tt.want {
				t.Errorf("IsMarkerLine(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestContainsMarker(t *testing.T) {
	line := Make("req-9", "s")
	if !ContainsMarker("noise before " + line + " noise after") {
		t.Fatal("ContainsMarker should find a marker embedded in surrounding text")
	}
	if ContainsMarker("no marker here") {
		t.Fatal("ContainsMarker should not find a marker in plain text")
	}
}
