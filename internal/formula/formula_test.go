package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndEval(t *testing.T) {
	t.Run("basic arithmetic", func(t *testing.T) {
		expr, err := Parse("pricing * volume")
		require.NoError(t, err)

		v, err := expr.Eval(map[string]float64{"pricing": 100, "volume": 500})
		require.NoError(t, err)
		assert.Equal(t, 50000.0, v)
	})

	t.Run("precedence and parentheses", func(t *testing.T) {
		expr, err := Parse("(revenue - costs) / 2 + 1")
		require.NoError(t, err)

		v, err := expr.Eval(map[string]float64{"revenue": 10, "costs": 4})
		require.NoError(t, err)
		assert.Equal(t, 4.0, v)
	})

	t.Run("unary minus", func(t *testing.T) {
		expr, err := Parse("-burn + revenue")
		require.NoError(t, err)

		v, err := expr.Eval(map[string]float64{"burn": 3000, "revenue": 5000})
		require.NoError(t, err)
		assert.Equal(t, 2000.0, v)
	})

	t.Run("numeric literals", func(t *testing.T) {
		expr, err := Parse("base * 1.5 - 10")
		require.NoError(t, err)

		v, err := expr.Eval(map[string]float64{"base": 100})
		require.NoError(t, err)
		assert.Equal(t, 140.0, v)
	})
}

func TestDivisionByZeroSentinel(t *testing.T) {
	expr, err := Parse("revenue / customers")
	require.NoError(t, err)

	v, err := expr.Eval(map[string]float64{"revenue": 100, "customers": 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestTokens(t *testing.T) {
	expr, err := Parse("volume * pricing + volume")
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "volume"}, expr.Tokens())
}

func TestRejectsUnsupportedConstructs(t *testing.T) {
	cases := map[string]string{
		"function call":   "max(a, b)",
		"conditional":     "a > 0 ? a : b",
		"indexing":        "a[0]",
		"attribute":       "a.b",
		"string literal":  `"hello"`,
		"template":        `"${a}"`,
		"tuple":           "[a, b]",
		"boolean literal": "true",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err)
		})
	}
}

func TestRejectsMalformedSyntax(t *testing.T) {
	_, err := Parse("a + * b")
	assert.Error(t, err)
}

func TestEvalMissingBinding(t *testing.T) {
	expr, err := Parse("a + b")
	require.NoError(t, err)

	_, err = expr.Eval(map[string]float64{"a": 1})
	assert.ErrorContains(t, err, "no bound value")
}
