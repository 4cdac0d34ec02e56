package document

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   Value
		want Value
	}{
		{String("work-unit"), String("work_unit")},
		{String("a-b-c"), String("a_b_c")},
		{String("exactly-16-chars"), String("exactly_16_chars")},
		{String("seventeen-chars-x"), String("seventeen-chars-x")},
		{String("plain"), String("plain")},
		{Int(-1), Int(-1)},
		{Int(3), Int(3)},
		{Null(), Null()},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.True(t, Equal(tt.want, NormalizeKey(tt.in)), "got %s", NormalizeKey(tt.in))
		})
	}
}

func TestNormalize_Recursive(t *testing.T) {
	var raw Value
	require.NoError(t, json.Unmarshal([]byte(`{"os-info":{"cpu-count":8},"units":[{"work-unit":"a-b"}]}`), &raw))

	got := Normalize(raw)
	assertJSON(t, `{"os_info":{"cpu_count":8},"units":[{"work_unit":"a-b"}]}`, got)

	// input untouched
	_, ok := raw.Get("os-info")
	assert.True(t, ok)
}

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"info":{"cpus":8,"load-avg":0.25}}`))
	require.NoError(t, err)
	assertJSON(t, `{"info":{"cpus":8,"load_avg":0.25}}`, v)

	info, _ := v.Get("info")
	cpus, _ := info.Get("cpus")
	n, ok := cpus.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(8), n)

	for _, bad := range []string{``, `{"a":`, `{} {}`, `nope`} {
		_, err := Decode([]byte(bad))
		assert.True(t, errors.Is(err, ErrMalformed), "input %q", bad)
	}
}

func TestValue_NumbersKeepText(t *testing.T) {
	v, err := Decode([]byte(`[12345678901234567890, 1.50]`))
	require.NoError(t, err)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `[12345678901234567890,1.50]`, string(b))

	assert.True(t, Equal(Int(1), Float(1.0)))
	assert.False(t, Equal(Int(1), String("1")))
}

func TestValue_Accessors(t *testing.T) {
	v := MustFromAny(map[string]any{
		"b": true,
		"s": "x",
		"l": []any{1, 2, 3},
		"m": map[string]any{"z": 1, "a": 2},
	})

	assert.Equal(t, KindMap, v.Kind())
	assert.Equal(t, []string{"b", "l", "m", "s"}, v.Keys())

	l, ok := v.Get("l")
	require.True(t, ok)
	assert.Equal(t, 3, l.Len())
	second, ok := l.Index(1)
	require.True(t, ok)
	n, _ := second.AsInt()
	assert.Equal(t, int64(2), n)
	_, ok = l.Index(3)
	assert.False(t, ok)

	items := l.Items()
	items[0] = String("mutated")
	first, _ := l.Index(0)
	assert.Equal(t, KindNumber, first.Kind())

	_, ok = v.Get("missing")
	assert.False(t, ok)

	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}

func TestValue_MarshalYAML(t *testing.T) {
	v := mustDecode(t, `{"info":{"cpus":8,"name":"box"},"log":["a"]}`)
	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "info:\n  cpus: 8\n  name: box\nlog:\n- a\n", string(out))
}

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, "null", v.String())
	assert.Nil(t, v.ToAny())
}
