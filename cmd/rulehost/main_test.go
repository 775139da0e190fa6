// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const script = `
TAGS = [
    ("timer", "I", "uint32", "timer.1sec"),
    ("out",   "O", "real64", "out.b"),
]
TRIGGER = "timer"

def exec(values, state):
    return {"out": values["timer"] / 2}
`

func TestCheckPrintsDeclaration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule-half.star")
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	var stdout bytes.Buffer
	if err := runArgs(t.Context(), []string{"--check", path}, &stdout); err != nil {
		t.Fatalf("runArgs: %v", err)
	}
	want := "rule-half: trigger timer\n" +
		"  timer        I uint32    timer.1sec\n" +
		"  out          O real64    out.b\n"
	if stdout.String() != want {
		t.Fatalf("output:\n%s\nwant:\n%s", stdout.String(), want)
	}
}

func TestRequiresOneScript(t *testing.T) {
	var stdout bytes.Buffer
	err := runArgs(t.Context(), nil, &stdout)
	if err == nil || !strings.Contains(err.Error(), "exactly one script") {
		t.Fatalf("runArgs = %v, want a usage error", err)
	}
	if !strings.Contains(stdout.String(), "Usage: rulehost") {
		t.Fatalf("usage not printed: %q", stdout.String())
	}
}

func TestMissingScript(t *testing.T) {
	var stdout bytes.Buffer
	if err := runArgs(t.Context(), []string{filepath.Join(t.TempDir(), "absent.star")}, &stdout); err == nil {
		t.Fatal("expected an error for a missing script")
	}
}
