package mcp

import "testing"

func TestRenderTemplate_SubstitutesKnownNames(t *testing.T) {
	got := renderTemplate("Hello, {{name}}! You are {{age}}.", map[string]string{"name": "Ada", "age": "36"})
	want := "Hello, Ada! You are 36."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderTemplate_LeavesUnsuppliedPlaceholdersVerbatim(t *testing.T) {
	got := renderTemplate("Hi {{name}}", map[string]string{})
	want := "Hi {{name}}"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderTemplate_NoArgumentsIsIdentity(t *testing.T) {
	got := renderTemplate("plain text", nil)
	if got != "plain text" {
		t.Fatalf("got %q", got)
	}
}
