package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-offline-core/internal/database"
)

func TestUpgradeDerivesItemIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.writeSchemaVersion(ctx, 1))
	require.NoError(t, s.Put(ctx, Items, RawRecord{
		Key:  "A1",
		Body: json.RawMessage(`{"item_code":"A1","item_name":"Red  Apple","item_barcode":"5901234","serial_no_data":[{"serial_no":"SN-1"}],"batch_no_data":[{"batch_no":"B-7","batch_qty":"3"}]}`),
	}))

	for i := 0; i < 2; i++ {
		require.NoError(t, s.ensureSchema(ctx))
	}

	version, found, err := s.readSchemaVersion(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, SchemaVersion, version)

	var it Item
	found, err = s.Get(ctx, Items, "A1", &it)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"red", "apple"}, it.NameKeywords)
	assert.Equal(t, []string{"5901234"}, it.Barcodes)
	assert.Equal(t, []string{"SN-1"}, it.Serials)
	assert.Equal(t, []string{"B-7"}, it.Batches)

	for index, value := range map[string]string{
		"barcodes":      "5901234",
		"name_keywords": "apple",
		"serials":       "sn-1",
		"batches":       "B-7",
	} {
		got, err := QueryIndex[Item](ctx, s, Items, index, value, false, nil, 0, 0)
		require.NoError(t, err)
		assert.Len(t, got, 1, index)
	}
}

func TestUpgradeKeepsUnmodeledItemFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.writeSchemaVersion(ctx, 1))
	require.NoError(t, s.Put(ctx, Items, RawRecord{
		Key:  "A1",
		Body: json.RawMessage(`{"item_code":"A1","item_name":"Apple","custom_origin":"Kent","valuation_rate":12.345678901234567890,"item_defaults":[{"company":"Acme"}]}`),
	}))
	require.NoError(t, s.ensureSchema(ctx))

	var body map[string]json.RawMessage
	found, err := s.Get(ctx, Items, "A1", &body)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `"Kent"`, string(body["custom_origin"]))
	assert.Equal(t, "12.345678901234567890", string(body["valuation_rate"]))
	assert.JSONEq(t, `[{"company":"Acme"}]`, string(body["item_defaults"]))
	assert.JSONEq(t, `["apple"]`, string(body["name_keywords"]))
}

func TestNewerSchemaIsVersionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.writeSchemaVersion(ctx, SchemaVersion+1))
	err := s.ensureSchema(ctx)
	require.Error(t, err)
	assert.Equal(t, database.VersionMismatch, database.KindOf(err))
	assert.True(t, database.IsCorrupt(err))
}
