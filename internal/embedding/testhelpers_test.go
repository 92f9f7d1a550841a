package embedding

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func compositionTable(t *testing.T, formulas map[string]string) *Table {
	t.Helper()
	tbl := &Table{Meta: Meta{Featurizer: FeaturizerElementFraction, Metric: MetricEuclidean}}
	ids := make([]string, 0, len(formulas))
	for id := range formulas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		vec, err := ElementFractionVector(formulas[id])
		require.NoError(t, err)
		tbl.Rows = append(tbl.Rows, Row{MaterialID: id, Formula: formulas[id], Vector: vec})
	}
	tbl.Meta.Dimension = len(tbl.Rows[0].Vector)
	return tbl
}

func writeSQLiteAsset(t *testing.T, dir, name string, tbl *Table) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, WriteSQLite(context.Background(), path, tbl))
	return path
}
