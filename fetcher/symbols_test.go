package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolMapperCaseInsensitive(t *testing.T) {
	m := NewSymbolMapper(map[string]string{"SPXx": "^GSPC", "BRKBx": "BRK-B"})

	assert.Equal(t, "^GSPC", m.ToProvider("SPXx"))
	assert.Equal(t, "^GSPC", m.ToProvider(" spxx "))
	assert.Equal(t, "AAPL", m.ToProvider("aapl"))
	assert.Equal(t, "SPXx", m.FromProvider("^gspc"))
	assert.Equal(t, "MSFT", m.FromProvider("MSFT"))
}

func TestLoadSymbolMapperFallsBack(t *testing.T) {
	m := LoadSymbolMapper(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Equal(t, len(DefaultSymbolMap), m.Len())
	assert.Equal(t, "^VIX", m.ToProvider("VIXx"))

	bad := filepath.Join(t.TempDir(), "bad.json")
	assert.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	m = LoadSymbolMapper(bad, nil)
	assert.Equal(t, 7, m.Len())
}

func TestLoadSymbolMapperEmbedded(t *testing.T) {
	m := LoadSymbolMapper("", []byte(`{"GCx":"GC=F","SPXx":"^GSPC"}`))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "GC=F", m.ToProvider("gcx"))
}

func TestNilMapperPassThrough(t *testing.T) {
	var m *SymbolMapper
	assert.Equal(t, "QQQ", m.ToProvider("qqq"))
}
