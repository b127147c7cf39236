package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-sync/internal/domain/entity"
)

func TestToUTF8_Latin1(t *testing.T) {
	// "recepción" en ISO-8859-1: ó = 0xF3
	raw := []byte("recepci\xf3n")
	out, err := toUTF8(raw)
	require.NoError(t, err)
	assert.Equal(t, "recepción", string(out))

	same, err := toUTF8([]byte("recepción"))
	require.NoError(t, err)
	assert.Equal(t, "recepción", string(same))
}

func TestWriteSQL_EscapaYUpsert(t *testing.T) {
	var b strings.Builder
	err := writeSQL(&b, []*entity.SyncRule{{
		ID:            "o'brien",
		SourceModule:  "sales",
		Trigger:       "sale_created",
		TargetModules: []string{"inventory", "accounting"},
		Priority:      10,
		Enabled:       true,
	}})
	require.NoError(t, err)
	sql := b.String()
	assert.Contains(t, sql, "'o''brien'")
	assert.Contains(t, sql, "ARRAY['inventory', 'accounting']::TEXT[], 10, true")
	assert.Contains(t, sql, "ON CONFLICT (id) DO UPDATE")
}
