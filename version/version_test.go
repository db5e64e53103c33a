package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	testMatrix := []struct {
		tag     string
		want    string
		wantErr bool
	}{
		{tag: "2.1.0", want: "2.1.0"},
		{tag: "v2.1.0", want: "2.1.0"},
		{tag: "tickerdesk_v1.2.3", want: "1.2.3"},
		{tag: "stock_monitor_v0.9.1", want: "0.9.1"},
		{tag: " v3.0.0 ", want: "3.0.0"},
		{tag: "v2.1.0-rc.1", want: "2.1.0-rc.1"},
		{tag: "", wantErr: true},
		{tag: "not-a-version", wantErr: true},
		{tag: "v", wantErr: true},
	}

	for _, c := range testMatrix {
		parsed, err := ParseTag(c.tag)
		if c.wantErr {
			assert.Error(t, err, "tag %q should not parse", c.tag)
			continue
		}
		require.NoError(t, err, "tag %q", c.tag)
		assert.Equal(t, c.want, parsed.Original(), "tag %q", c.tag)
	}
}

func TestCompare(t *testing.T) {
	testMatrix := []struct {
		a, b string
		want int
	}{
		{a: "2.0.5", b: "v2.1.0", want: -1},
		{a: "v2.1.0", b: "2.0.5", want: 1},
		{a: "v1.0.0", b: "1.0.0", want: 0},
		{a: "tickerdesk_v1.2.3", b: "1.2.3", want: 0},
		{a: "1.10.0", b: "1.9.9", want: 1},
	}

	for _, c := range testMatrix {
		got, err := Compare(c.a, c.b)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "compare(%q, %q)", c.a, c.b)

		// antisymmetry
		rev, err := Compare(c.b, c.a)
		require.NoError(t, err)
		assert.Equal(t, -c.want, rev, "compare(%q, %q)", c.b, c.a)
	}
}

func TestCompareTransitive(t *testing.T) {
	ordered := []string{"0.9.0", "1.0.0", "1.0.1", "v1.1.0", "2.0.0"}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			got, err := Compare(ordered[i], ordered[j])
			require.NoError(t, err)
			assert.Equal(t, -1, got, "compare(%q, %q)", ordered[i], ordered[j])
		}
	}
}

func TestCompareUnparsableIsHardFailure(t *testing.T) {
	_, err := Compare("garbage", "1.0.0")
	assert.Error(t, err)

	_, err = Compare("1.0.0", "garbage")
	assert.Error(t, err)
}
