package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingToolsPositiveCases(t *testing.T) {
	s := New()
	names := []string{"jq", "rg"}

	cases := []string{
		"jq .foo file.json",
		"cat file | jq .",
		"echo hi; jq .",
		"true && jq .",
		"false || jq .",
		"$(jq .)",
		"`jq .`",
		"xargs jq",
		"sudo jq",
		"env jq",
		"FOO=bar jq .",
	}
	for _, c := range cases {
		got := s.MissingTools(c, names)
		assert.Contains(t, got, "jq", "command %q should detect jq", c)
	}
}

func TestMissingToolsNegativeCases(t *testing.T) {
	s := New()
	names := []string{"jq"}

	cases := []string{
		`echo "jq is great"`,
		"echo jq",
		"for x in jq; do echo $x; done",
		"JQ=jq",
	}
	for _, c := range cases {
		got := s.MissingTools(c, names)
		assert.NotContains(t, got, "jq", "command %q should not detect jq", c)
	}
}

func TestMissingToolsOnlyReturnsCandidates(t *testing.T) {
	s := New()
	got := s.MissingTools("rg foo", []string{"rg", "fd"})
	assert.Equal(t, []string{"rg"}, got)
}
