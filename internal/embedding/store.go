package embedding

import (
	"bufio"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"sky/internal/logging"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Metric names.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// Meta describes how the vectors of a table were produced.
type Meta struct {
	Featurizer string `json:"featurizer"`
	Metric     string `json:"metric"`
	Dimension  int    `json:"dimension"`
}

// Row is one embedded material.
type Row struct {
	MaterialID string    `json:"material_id"`
	Formula    string    `json:"formula"`
	Vector     []float32 `json:"vector"`
}

// Table is a fully loaded embedding asset.
type Table struct {
	Meta Meta
	Rows []Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS embeddings (
	material_id TEXT NOT NULL,
	formula     TEXT NOT NULL,
	vector      BLOB NOT NULL
);`

// LoadTable reads an embedding asset. Files ending in .db or .sqlite are
// SQLite databases; .jsonl and .jsonl.gz files are JSON lines with a
// {"meta": {...}} header.
func LoadTable(ctx context.Context, path string) (*Table, error) {
	var (
		t   *Table
		err error
	)
	switch {
	case strings.HasSuffix(path, ".db"), strings.HasSuffix(path, ".sqlite"):
		t, err = loadSQLite(ctx, path)
	case strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".jsonl.gz"):
		t, err = loadJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported embedding asset format: %s", path)
	}
	if err != nil {
		return nil, err
	}
	if err := t.normalize(); err != nil {
		return nil, fmt.Errorf("invalid embedding asset %s: %w", path, err)
	}
	logging.Debug("Loaded embedding table", "path", path, "rows", len(t.Rows),
		"featurizer", t.Meta.Featurizer, "metric", t.Meta.Metric, "dimension", t.Meta.Dimension)
	return t, nil
}

// normalize fills defaults and checks that every vector has the same length.
func (t *Table) normalize() error {
	if t.Meta.Metric == "" {
		t.Meta.Metric = MetricEuclidean
	}
	if t.Meta.Metric != MetricEuclidean && t.Meta.Metric != MetricCosine {
		return fmt.Errorf("unknown metric %q", t.Meta.Metric)
	}
	if len(t.Rows) == 0 {
		return errors.New("table has no rows")
	}
	if t.Meta.Dimension == 0 {
		t.Meta.Dimension = len(t.Rows[0].Vector)
	}
	for i, r := range t.Rows {
		if len(r.Vector) != t.Meta.Dimension {
			return fmt.Errorf("row %d (%s) has dimension %d, expected %d", i, r.MaterialID, len(r.Vector), t.Meta.Dimension)
		}
	}
	return nil
}

func loadSQLite(ctx context.Context, path string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open embedding database: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding database: %w", err)
	}
	defer db.Close()

	t := &Table{}
	metaRows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err == nil {
		for metaRows.Next() {
			var k, v string
			if err := metaRows.Scan(&k, &v); err != nil {
				metaRows.Close()
				return nil, fmt.Errorf("failed to read meta: %w", err)
			}
			t.Meta.set(k, v)
		}
		metaRows.Close()
	} else {
		logging.Debug("Embedding database has no meta table", "path", path, "error", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT material_id, formula, vector FROM embeddings ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r    Row
			blob []byte
		)
		if err := rows.Scan(&r.MaterialID, &r.Formula, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		if r.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("material %s: %w", r.MaterialID, err)
		}
		t.Rows = append(t.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}
	return t, nil
}

func (m *Meta) set(key, value string) {
	switch key {
	case "featurizer":
		m.Featurizer = value
	case "metric":
		m.Metric = strings.ToLower(value)
	case "dimension":
		if n, err := strconv.Atoi(value); err == nil {
			m.Dimension = n
		}
	}
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

type jsonlHeader struct {
	Meta *Meta `json:"meta"`
}

func loadJSONL(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	t := &Table{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		if line == 1 {
			var h jsonlHeader
			if err := json.Unmarshal([]byte(raw), &h); err == nil && h.Meta != nil {
				t.Meta = *h.Meta
				t.Meta.Metric = strings.ToLower(t.Meta.Metric)
				continue
			}
		}
		var row Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read embedding file: %w", err)
	}
	return t, nil
}

// WriteSQLite writes t to a new SQLite asset at path, replacing any existing
// rows.
func WriteSQLite(ctx context.Context, path string, t *Table) (retErr error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM meta; DELETE FROM embeddings;`); err != nil {
		return fmt.Errorf("failed to clear tables: %w", err)
	}
	meta := map[string]string{
		"featurizer": t.Meta.Featurizer,
		"metric":     t.Meta.Metric,
		"dimension":  strconv.Itoa(t.Meta.Dimension),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings (material_id, formula, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range t.Rows {
		if _, err := stmt.ExecContext(ctx, r.MaterialID, r.Formula, encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", r.MaterialID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// WriteJSONL writes t as gzip-compressed JSON lines to path.
func WriteJSONL(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create embedding file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	meta := t.Meta
	if err := enc.Encode(jsonlHeader{Meta: &meta}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range t.Rows {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write %s: %w", r.MaterialID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return nil
}
