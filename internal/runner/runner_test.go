package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged string, got %q", got)
	}
	got := Truncate(strings.Repeat("x", 20), 5)
	if got != "xxxxx...(truncated)" {
		t.Errorf("expected truncated string, got %q", got)
	}
}

func TestExec_CapturesStdout(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	out, _, err := New(nil).Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("expected hello, got %q", out)
	}
}

func TestExec_MissingBinary(t *testing.T) {
	_, _, err := New(nil).Run(context.Background(), "docintake-no-such-binary")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestFunc_Adapter(t *testing.T) {
	var gotName string
	r := Func(func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName = name
		return []byte(strings.Join(args, ",")), nil, nil
	})
	out, _, err := r.Run(context.Background(), "tool", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if gotName != "tool" || string(out) != "a,b" {
		t.Errorf("unexpected call: name=%q out=%q", gotName, out)
	}
}
