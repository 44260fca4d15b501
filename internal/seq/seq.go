// Package seq asserts that log output contains a sequence of lines in
// order. Lines that are part of the sequence may not appear anywhere else in
// the output, which catches duplicated or reordered work.
package seq

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func AssertStringContainsSequence(t *testing.T, str string, seq ...string) bool {
	t.Helper()
	return assert.NoError(t, StringContainsSequence(str, seq...))
}

func AssertContainsSequence(t *testing.T, lines []string, seq ...string) bool {
	t.Helper()
	return assert.NoError(t, ContainsSequence(lines, seq...))
}

func StringContainsSequence(str string, seq ...string) error {
	return ContainsSequence(strings.Split(str, "\n"), seq...)
}

func ContainsSequence(lines []string, seq ...string) error {
	wanted := map[string]struct{}{}
	for _, l := range seq {
		wanted[l] = struct{}{}
	}

	next := 0
	for i, line := range lines {
		if _, ok := wanted[line]; !ok {
			continue
		}
		if next < len(seq) && line == seq[next] {
			next++
			continue
		}
		if next == len(seq) {
			return failure("line %d recurs after the whole sequence was seen: '%s'", lines, seq, i+1, line)
		}
		return failure("line %d is out of order: found '%s' while looking for item %d, '%s'", lines, seq, i+1, line, next+1, seq[next])
	}
	if next < len(seq) {
		return failure("item %d not found: '%s'", lines, seq, next+1, seq[next])
	}
	return nil
}

func failure(f string, lines, seq []string, args ...any) error {
	return fmt.Errorf("%s\n\nSequence:\n%s\n\nActual:\n%s",
		fmt.Sprintf(f, args...),
		strings.Join(seq, "\n"),
		strings.Join(lines, "\n"))
}
