package slug_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dinehub.org/internal/slug"
)

func TestMake(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Owner":                "owner",
		"  Shift Manager  ":    "shift-manager",
		"Chef de Cuisine":      "chef-de-cuisine",
		"Gérant Général":       "gerant-general",
		"Bar & Lounge / Staff": "bar-lounge-staff",
		"Host_2":               "host-2",
		"---":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, slug.Make(in), "input %q", in)
	}
}

func TestMakeOptions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "shift_manager", slug.Make("Shift Manager", slug.Separator("_")))
	assert.Equal(t, "very-long", slug.Make("very long role name", slug.MaxLength(10)))
}
