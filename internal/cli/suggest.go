// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// suggestCommand returns the closest subcommand name to name by edit
// distance, or "" if nothing is close enough to be worth suggesting.
func suggestCommand(name string, candidates []*Command) string {
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := levenshtein(name, c.Name)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = c.Name
		}
	}
	if bestDist < 0 || bestDist > maxSuggestDistance(name) {
		return ""
	}
	return best
}

// suggestFlag extracts the offending flag token out of args and
// returns the closest known flag name on flagSet, or "" if none is
// close enough.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var offending string
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			offending = strings.TrimPrefix(arg, "--")
			if eq := strings.IndexByte(offending, '='); eq >= 0 {
				offending = offending[:eq]
			}
			break
		}
	}
	if offending == "" {
		return ""
	}

	best := ""
	bestDist := -1
	flagSet.VisitAll(func(f *pflag.Flag) {
		d := levenshtein(offending, f.Name)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = f.Name
		}
	})
	if bestDist < 0 || bestDist > maxSuggestDistance(offending) {
		return ""
	}
	return "--" + best
}

func maxSuggestDistance(s string) int {
	if len(s) <= 3 {
		return 1
	}
	return 2
}

// levenshtein computes the edit distance between a and b.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
