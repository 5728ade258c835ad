package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	pool := []int{0, 1, 2, 3, 4, 5}

	tests := []struct {
		input string
		kind  SelectorKind
		want  []int
	}{
		{"all", SelectAll, pool},
		{" ALL ", SelectAll, pool},
		{"3", SelectList, []int{3}},
		{"0,2,4", SelectList, []int{0, 2, 4}},
		{"[1, 3]", SelectList, []int{1, 3}},
		{"(0,)", SelectList, []int{0}},
		{"9", SelectList, []int{9}},
		{"::2", SelectRange, []int{0, 2, 4}},
		{"1:4", SelectRange, []int{1, 2, 3}},
		{"-2:", SelectRange, []int{4, 5}},
		{":-4", SelectRange, []int{0, 1}},
		{"::-1", SelectRange, []int{5, 4, 3, 2, 1, 0}},
		{"4:1:-1", SelectRange, []int{4, 3, 2}},
		{"10:", SelectRange, []int{}},
		{"-100:2", SelectRange, []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sel, err := ParseSelector(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, sel.Kind())
			assert.Equal(t, tt.want, sel.Resolve(pool))
		})
	}
}

func TestParseSelectorRejects(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"os.system('rm -rf /')",
		"1,,x",
		"[1, 2",
		"-1",
		"1:2:3:4",
		"a:b",
		"::0",
		"[]",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSelector(input)
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %T", err)
			assert.Equal(t, "targets", cfgErr.Field)
		})
	}
}

func TestSelectorString(t *testing.T) {
	for _, input := range []string{"all", "[0, 2]", "1:4", "::2", "-2:", "4:1:-1"} {
		sel, err := ParseSelector(input)
		require.NoError(t, err)
		again, err := ParseSelector(sel.String())
		require.NoError(t, err, "String() = %q", sel.String())
		assert.Equal(t, sel.Resolve([]int{0, 1, 2, 3, 4, 5}), again.Resolve([]int{0, 1, 2, 3, 4, 5}))
	}
	assert.Equal(t, "all", Selector{}.String())
	assert.Equal(t, "[0, 2]", EngineList(0, 2).String())
}

func TestSelectorIDsAreCopied(t *testing.T) {
	sel := EngineList(1, 2)
	ids := sel.IDs()
	ids[0] = 99
	assert.Equal(t, []int{1, 2}, sel.IDs())
	assert.Nil(t, AllEngines().IDs())
}

func TestAbbreviateIDs(t *testing.T) {
	assert.Equal(t, "[0, 1, 2]", AbbreviateIDs([]int{0, 1, 2}))
	ids := make([]int, 12)
	for i := range ids {
		ids[i] = i
	}
	assert.Equal(t, "[0, 1, 2, 3, ..., 8, 9, 10, 11]", AbbreviateIDs(ids))
}
