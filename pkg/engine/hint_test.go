package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParseHints(t *testing.T) {
	t.Run("structured array", func(t *testing.T) {
		raw := []byte(`[{"sku_category":"gpu","sku_code":"A100*","attributes":{"region":"us"},"min_count":2}]`)

		hints, err := ParseHints(raw)
		require.NoError(t, err)
		require.Len(t, hints, 1)

		assert.Equal(t, "gpu", hints[0].SkuCategory)
		assert.Equal(t, "A100*", *hints[0].SkuCode)
		assert.Equal(t, map[string]string{"region": "us"}, hints[0].Attributes)
		assert.Equal(t, 2, hints[0].MinCount)
	})

	t.Run("double encoded string", func(t *testing.T) {
		raw := []byte(`"[{\"sku_category\":\"proxy\"}]"`)

		hints, err := ParseHints(raw)
		require.NoError(t, err)
		require.Len(t, hints, 1)

		assert.Equal(t, "proxy", hints[0].SkuCategory)
		assert.Nil(t, hints[0].SkuCode)
	})

	t.Run("min count defaults to one", func(t *testing.T) {
		hints, err := ParseHints([]byte(`[{"sku_category":"gpu"},{"sku_category":"cpu","min_count":0}]`))
		require.NoError(t, err)
		require.Len(t, hints, 2)

		assert.Equal(t, 1, hints[0].MinCount)
		assert.Equal(t, 1, hints[1].MinCount)
	})

	t.Run("blank category rejected", func(t *testing.T) {
		_, err := ParseHints([]byte(`[{"sku_category":""}]`))
		assert.ErrorIs(t, err, errBlankCategory)
	})

	t.Run("empty input yields no hints", func(t *testing.T) {
		hints, err := ParseHints(nil)
		require.NoError(t, err)
		assert.Empty(t, hints)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := ParseHints([]byte(`{"not":"an array"}`))
		assert.Error(t, err)
	})
}

func TestResourceHintMatches(t *testing.T) {
	asset := Asset{
		ID:          "asset-1",
		SkuCategory: "gpu",
		SkuCode:     strPtr("A100-80G"),
		MetaSpec:    map[string]string{"region": "us-east", "tier": "premium"},
		Status:      AssetReady,
	}

	testCases := []struct {
		name    string
		hint    ResourceHint
		matches bool
	}{
		{"category only", ResourceHint{SkuCategory: "gpu"}, true},
		{"category mismatch", ResourceHint{SkuCategory: "cpu"}, false},
		{"exact sku code", ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("A100-80G")}, true},
		{"prefix glob", ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("A100*")}, true},
		{"suffix glob", ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("*80G")}, true},
		{"inner glob", ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("A*-*G")}, true},
		{"glob mismatch", ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("H100*")}, false},
		{"attribute subset", ResourceHint{SkuCategory: "gpu", Attributes: map[string]string{"region": "us-east"}}, true},
		{"attribute value mismatch", ResourceHint{SkuCategory: "gpu", Attributes: map[string]string{"region": "eu-west"}}, false},
		{"attribute missing", ResourceHint{SkuCategory: "gpu", Attributes: map[string]string{"zone": "a"}}, false},
		{
			"all criteria",
			ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("A100*"), Attributes: map[string]string{"tier": "premium"}},
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.matches, tc.hint.Matches(asset))
		})
	}

	t.Run("nil asset code fails a coded hint", func(t *testing.T) {
		bare := Asset{SkuCategory: "gpu"}
		assert.False(t, ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("A*")}.Matches(bare))
		assert.True(t, ResourceHint{SkuCategory: "gpu"}.Matches(bare))
	})
}

func TestLikePattern(t *testing.T) {
	assert.Nil(t, ResourceHint{SkuCategory: "gpu"}.LikePattern())

	p := ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("A100*")}.LikePattern()
	require.NotNil(t, p)
	assert.Equal(t, "A100%", *p)

	p = ResourceHint{SkuCategory: "gpu", SkuCode: strPtr("*-80G")}.LikePattern()
	require.NotNil(t, p)
	assert.Equal(t, "%-80G", *p)

	// LIKE metacharacters in the code stay literal; only "*" is a wildcard.
	p = ResourceHint{SkuCategory: "proxy", SkuCode: strPtr("dc_us*")}.LikePattern()
	require.NotNil(t, p)
	assert.Equal(t, `dc\_us%`, *p)

	p = ResourceHint{SkuCategory: "proxy", SkuCode: strPtr("100%-*")}.LikePattern()
	require.NotNil(t, p)
	assert.Equal(t, `100\%-%`, *p)
}

func TestGlobMatch(t *testing.T) {
	testCases := []struct {
		pattern, s string
		want       bool
	}{
		{"A100", "A100", true},
		{"A100", "A101", false},
		{"*", "anything", true},
		{"*", "", true},
		{"A*", "A100", true},
		{"A*", "B100", false},
		{"*G", "A100-80G", true},
		{"*G", "A100-80X", false},
		{"A*80*G", "A100-80G", true},
		{"A*80*G", "A100-40G", false},
		{"dc_us*", "dc_us-1", true},
		{"dc_us*", "dcXus-1", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, globMatch(tc.pattern, tc.s), "pattern %q against %q", tc.pattern, tc.s)
	}
}
