// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"kitten", "sitting", 3},
		{"policy", "polcy", 1},
		{"credential", "credentail", 2},
		{"verify", "verfy", 1},
	}

	for _, test := range tests {
		got := levenshtein(test.a, test.b)
		if got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if reverse := levenshtein(test.b, test.a); reverse != got {
			t.Errorf("levenshtein(%q, %q) = %d, but reverse = %d", test.b, test.a, got, reverse)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "policy"},
		{Name: "credential"},
		{Name: "audit"},
		{Name: "guard"},
		{Name: "status"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"polcy", "policy"},
		{"credentail", "credential"},
		{"adit", "audit"},
		{"guardd", "guard"},
		{"statsu", "status"},
		{"zzzzzzzz", ""},
	}

	for _, test := range tests {
		got := suggestCommand(test.input, commands)
		if got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("config", "", "")
		flags.Bool("verbose", false, "")
		flags.Int("limit", 0, "")
		return flags
	}

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--confg"}, "--config"},
		{[]string{"--verbos", "x"}, "--verbose"},
		{[]string{"--limt=5"}, "--limit"},
		{[]string{"--config"}, ""},       // defined, nothing to suggest
		{[]string{"positional"}, ""},     // not a flag
		{[]string{"--qqqqqqqqqqq"}, ""},  // nothing close
	}

	for _, test := range tests {
		got := suggestFlag(test.args, newFlags())
		if got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
