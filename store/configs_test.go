package store

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadi/qsa-engrave/models"
)

func element(design, revision string, pos int, typ string, x, y float64) models.ElementConfig {
	return models.ElementConfig{
		Design: design, Revision: revision, Position: pos, ElementType: typ,
		OriginX: x, OriginY: y, IsActive: true,
	}
}

func TestGetConfigInvertsYOnce(t *testing.T) {
	s := NewConfigStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.SetElement(ctx, element("STAR", "a", 1, models.ElementMicroID, 10, 20))
	require.NoError(t, err)

	cfg, err := s.GetConfig(ctx, "STAR", "a")
	require.NoError(t, err)
	ec := cfg[1][models.ElementMicroID]
	assert.Equal(t, 10.0, ec.OriginX)
	assert.Equal(t, models.CanvasHeightMM-20, ec.OriginY)

	// A second read inverts from storage again, not from the previous read.
	cfg, err = s.GetConfig(ctx, "STAR", "a")
	require.NoError(t, err)
	assert.Equal(t, models.CanvasHeightMM-20, cfg[1][models.ElementMicroID].OriginY)
}

func TestGetConfigRevisionFallback(t *testing.T) {
	s := NewConfigStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.SetElement(ctx, element("STAR", "", 1, models.ElementMicroID, 1, 1))
	require.NoError(t, err)
	_, err = s.SetElement(ctx, element("STAR", "b", 1, models.ElementMicroID, 2, 2))
	require.NoError(t, err)

	// Exact revision wins.
	cfg, err := s.GetConfig(ctx, "STAR", "b")
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg[1][models.ElementMicroID].OriginX)

	// Unknown revision falls back to the no-revision default.
	cfg, err = s.GetConfig(ctx, "STAR", "z")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg[1][models.ElementMicroID].OriginX)

	// With only a lettered revision present, any-revision fallback kicks in.
	_, err = s.SetElement(ctx, element("QUAD", "c", 1, models.ElementMicroID, 3, 3))
	require.NoError(t, err)
	cfg, err = s.GetConfig(ctx, "QUAD", "a")
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg[1][models.ElementMicroID].OriginX)

	_, err = s.GetConfig(ctx, "NONE", "")
	assert.True(t, models.IsCode(err, models.CodeConfigNotFound))
}

func TestSetElementValidation(t *testing.T) {
	s := NewConfigStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.SetElement(ctx, element("STAR", "a", 3, models.ElementQRCode, 1, 1))
	assert.True(t, models.IsCode(err, models.CodeInvalidPosition))

	_, err = s.SetElement(ctx, element("STAR", "a", 0, models.ElementMicroID, 1, 1))
	assert.True(t, models.IsCode(err, models.CodeInvalidPosition))

	_, err = s.SetElement(ctx, element("STAR", "a", 1, "hologram", 1, 1))
	assert.True(t, models.IsCode(err, models.CodeInvalidElementType))

	_, err = s.SetElement(ctx, element("STAR", "AA", 1, models.ElementMicroID, 1, 1))
	assert.True(t, models.IsCode(err, models.CodeInvalidParams))

	// Upsert: same key overwrites instead of duplicating.
	id1, err := s.SetElement(ctx, element("STAR", "a", 1, models.ElementMicroID, 1, 1))
	require.NoError(t, err)
	id2, err := s.SetElement(ctx, element("STAR", "a", 1, models.ElementMicroID, 5, 5))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestValidateConfig(t *testing.T) {
	s := NewConfigStore(testDB(t), testLog())
	ctx := context.Background()

	res, err := s.ValidateConfig(ctx, "STAR", "", 2)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"qr_code@0"}, res.Missing)

	_, err = s.SetElement(ctx, element("STAR", "", 0, models.ElementQRCode, 70, 50))
	require.NoError(t, err)
	for p := 1; p <= 2; p++ {
		for _, typ := range []string{models.ElementMicroID, models.ElementModuleID} {
			_, err := s.SetElement(ctx, element("STAR", "", p, typ, 1, 1))
			require.NoError(t, err)
		}
	}

	res, err = s.ValidateConfig(ctx, "STAR", "", 2)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"serial_url@1", "serial_url@2"}, res.Missing)

	for p := 1; p <= 2; p++ {
		_, err := s.SetElement(ctx, element("STAR", "", p, models.ElementSerialURL, 1, 1))
		require.NoError(t, err)
	}
	res, err = s.ValidateConfig(ctx, "STAR", "", 2)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Missing)
}

const sampleCSV = `qsa_design,revision,position,element_type,origin_x,origin_y,rotation,text_height,element_size
STAR,a,0,qr_code,70,50,0,,3
STAR,a,1,micro_id,10,100,0,,
STAR,a,1,module_id,10,95,0,1.5,
STAR,a,1,serial_url,10,90,90,1.2,
`

func TestParseConfigCSV(t *testing.T) {
	design, revision, elements, err := ParseConfigCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, "STAR", design)
	assert.Equal(t, "a", revision)
	require.Len(t, elements, 4)
	assert.Equal(t, models.ElementQRCode, elements[0].ElementType)
	assert.Equal(t, 3.0, elements[0].ElementSize)
	assert.Equal(t, 1.5, elements[2].TextHeight)
	assert.Equal(t, 90.0, elements[3].Rotation)
}

func TestParseConfigCSVRejects(t *testing.T) {
	cases := map[string]string{
		"no data rows": "qsa_design,revision,position,element_type,origin_x,origin_y,rotation\n",
		"missing column": "qsa_design,revision,position,element_type,origin_x,origin_y\n" +
			"STAR,a,0,qr_code,70,50\n",
		"mixed designs": "qsa_design,revision,position,element_type,origin_x,origin_y,rotation\n" +
			"STAR,a,0,qr_code,70,50,0\nQUAD,a,1,module_id,1,1,0\n",
		"no qr_code": "qsa_design,revision,position,element_type,origin_x,origin_y,rotation\n" +
			"STAR,a,1,module_id,1,1,0\n",
		"no module_id": "qsa_design,revision,position,element_type,origin_x,origin_y,rotation\n" +
			"STAR,a,0,qr_code,70,50,0\n",
		"bad coordinates": "qsa_design,revision,position,element_type,origin_x,origin_y,rotation\n" +
			"STAR,a,0,qr_code,seventy,50,0\n",
	}
	for name, csv := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, _, err := ParseConfigCSV(strings.NewReader(csv))
			require.Error(t, err)
		})
	}
}

func TestImportPreviewApplyExportRoundTrip(t *testing.T) {
	s := NewConfigStore(testDB(t), testLog())
	ctx := context.Background()

	design, revision, elements, err := ParseConfigCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	delta, err := s.PreviewImport(ctx, design, revision, elements)
	require.NoError(t, err)
	assert.Len(t, delta.Additions, 4)
	assert.Empty(t, delta.Updates)
	assert.Empty(t, delta.Deletions)
	require.NoError(t, s.ApplyImport(ctx, delta))

	// Re-importing the identical CSV is a no-op delta.
	delta, err = s.PreviewImport(ctx, design, revision, elements)
	require.NoError(t, err)
	assert.Empty(t, delta.Additions)
	assert.Empty(t, delta.Updates)
	assert.Empty(t, delta.Deletions)

	// Move one element, drop another: one update, one deletion.
	moved := append([]models.ElementConfig{}, elements[:3]...)
	moved[1].OriginX = 11
	delta, err = s.PreviewImport(ctx, design, revision, moved)
	require.NoError(t, err)
	assert.Empty(t, delta.Additions)
	require.Len(t, delta.Updates, 1)
	assert.Equal(t, models.ElementMicroID, delta.Updates[0].ElementType)
	require.Len(t, delta.Deletions, 1)
	assert.Equal(t, models.ElementSerialURL, delta.Deletions[0].ElementType)
	require.NoError(t, s.ApplyImport(ctx, delta))

	// Export preserves CAD coordinates: re-parsing the export yields the same
	// elements the store holds.
	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(ctx, design, revision, &buf))
	d2, r2, exported, err := ParseConfigCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, design, d2)
	assert.Equal(t, revision, r2)
	require.Len(t, exported, 3)
	for _, ec := range exported {
		if ec.ElementType == models.ElementMicroID {
			assert.Equal(t, 11.0, ec.OriginX)
			assert.Equal(t, 100.0, ec.OriginY) // CAD frame, not inverted
		}
	}
}

func TestDesignsAndRevisions(t *testing.T) {
	s := NewConfigStore(testDB(t), testLog())
	ctx := context.Background()

	_, err := s.SetElement(ctx, element("STAR", "", 1, models.ElementMicroID, 1, 1))
	require.NoError(t, err)
	_, err = s.SetElement(ctx, element("STAR", "b", 1, models.ElementMicroID, 1, 1))
	require.NoError(t, err)
	_, err = s.SetElement(ctx, element("QUAD", "a", 1, models.ElementMicroID, 1, 1))
	require.NoError(t, err)

	designs, err := s.Designs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"QUAD", "STAR"}, designs)

	revs, err := s.Revisions(ctx, "STAR")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "b"}, revs)
}
