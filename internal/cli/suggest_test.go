// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestSuggestCommand(t *testing.T) {
	candidates := []*Command{{Name: "mount"}, {Name: "init"}, {Name: "snapshot"}}

	if got := suggestCommand("mont", candidates); got != "mount" {
		t.Errorf("suggestCommand(mont) = %q, want mount", got)
	}
	if got := suggestCommand("xyz", candidates); got != "" {
		t.Errorf("suggestCommand(xyz) = %q, want no suggestion", got)
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	flagSet.String("namespace", "", "")
	flagSet.String("password-file", "", "")

	if got := suggestFlag([]string{"--namespce", "home"}, flagSet); got != "--namespace" {
		t.Errorf("suggestFlag = %q, want --namespace", got)
	}
	if got := suggestFlag([]string{"--zzzzzzzz"}, flagSet); got != "" {
		t.Errorf("suggestFlag(zzzzzzzz) = %q, want no suggestion", got)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"mount", "mount", 0},
		{"mont", "mount", 1},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
