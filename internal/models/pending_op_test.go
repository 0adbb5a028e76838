package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingOpJSONKeepsVariant(t *testing.T) {
	created := time.Date(2026, 3, 7, 8, 15, 0, 0, time.UTC)
	ops := []PendingOp{
		{
			ID: "a", Client: "acme", Unit: "plant-1", CreatedAt: created,
			Op: CreateRecord{Record: RecordIncident, Data: map[string]any{"type": "fence"}, Photo: Embed("image/jpeg", []byte{1, 2})},
		},
		{
			ID: "b", Client: "acme", Site: "north", Unit: "plant-1", CreatedAt: created,
			Op: UpdateFields{DocPath: "round_run/r1", Data: map[string]any{"state": "NOT_DONE"}, MediaPrefix: "records.1."},
		},
	}

	for _, op := range ops {
		t.Run(string(op.Kind()), func(t *testing.T) {
			b, err := json.Marshal(op)
			require.NoError(t, err)

			var got PendingOp
			require.NoError(t, json.Unmarshal(b, &got))
			assert.Equal(t, op.Kind(), got.Kind())
			assert.Equal(t, op.Client, got.Client)
			assert.Equal(t, op.Site, got.Site)
			assert.True(t, op.CreatedAt.Equal(got.CreatedAt))
			assert.IsType(t, op.Op, got.Op)
		})
	}
}

func TestPendingOpLegacyEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		kind  OpKind
		check func(t *testing.T, p PendingOp)
	}{
		{
			name: "legacy incident upload",
			raw: `{"id":"x1","type":"incidencia-upload","docPath":"INCIDENCIAS_REGISTRADAS/abc",
				"cliente":"ACME","unidad":"PLANTA","foto_base64":"data:image/jpeg;base64,AQI=","createdAt":1767000000000}`,
			kind: KindFieldUpdate,
			check: func(t *testing.T, p PendingOp) {
				u := p.Op.(UpdateFields)
				assert.Equal(t, "INCIDENCIAS_REGISTRADAS/abc", u.DocPath)
				assert.Equal(t, Embedded("data:image/jpeg;base64,AQI="), u.Photo)
				assert.Equal(t, "ACME", p.Client)
				assert.Equal(t, "PLANTA", p.Unit)
				assert.Equal(t, int64(1767000000000), p.CreatedAt.UnixMilli())
				require.NoError(t, ValidateRouting(p))
			},
		},
		{
			name: "legacy vehicle record with photo inside data",
			raw:  `{"id":"x2","kind":"vehicular-full","data":{"cliente":"ACME","unidad":"PLANTA","placa":"AB-123","fotoBase64":"data:image/png;base64,AQI="}}`,
			kind: KindVehicle,
			check: func(t *testing.T, p PendingOp) {
				c := p.Op.(CreateRecord)
				assert.Equal(t, RecordVehicle, c.Record)
				assert.Equal(t, Embedded("data:image/png;base64,AQI="), c.Photo)
				assert.NotContains(t, c.Data, "fotoBase64")
				assert.Equal(t, "AB-123", c.Data["placa"])
				assert.Equal(t, "ACME", p.Client)
			},
		},
		{
			name: "legacy update without routing",
			raw:  `{"id":"x3","type":"update","docPath":"X/1"}`,
			kind: KindFieldUpdate,
			check: func(t *testing.T, p PendingOp) {
				assert.ErrorIs(t, ValidateRouting(p), ErrInvalid)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p PendingOp
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &p))
			assert.Equal(t, tt.kind, p.Kind())
			tt.check(t, p)
		})
	}
}

func TestPendingOpUnknownKind(t *testing.T) {
	var p PendingOp
	err := json.Unmarshal([]byte(`{"id":"z","kind":"teleport"}`), &p)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseDocPath(t *testing.T) {
	table, id, err := ParseDocPath("round_run/north_2026_03_07_0800")
	require.NoError(t, err)
	assert.Equal(t, "round_run", table)
	assert.Equal(t, "north_2026_03_07_0800", id)

	table, id, err = ParseDocPath("incident:abc")
	require.NoError(t, err)
	assert.Equal(t, "incident", table)
	assert.Equal(t, "abc", id)

	for _, bad := range []string{"", "noslash", "/id", "table/"} {
		_, _, err := ParseDocPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestEmbedded(t *testing.T) {
	e := Embed("image/png", []byte("hello"))
	ct, data, err := e.Decode()
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, "png", e.Extension())

	_, _, err = Embedded("https://example.com/x.jpg").Decode()
	assert.ErrorIs(t, err, ErrNotDataURL)
	assert.True(t, Embedded("  ").Empty())
}

func TestRecordKinds(t *testing.T) {
	k, err := ParseRecordKind(" Vehicle ")
	require.NoError(t, err)
	assert.Equal(t, RecordVehicle, k)
	assert.Equal(t, "vehicle_access", k.Collection())
	assert.Equal(t, "vehicle-access", k.Folder())
	assert.Equal(t, KindVehicle, CreateRecord{Record: k}.Kind())

	_, err = ParseRecordKind("parcel")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
