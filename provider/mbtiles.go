package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/maptile"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver

	"github.com/gogpu/tilecache"
)

// MBTilesConfig configures an MBTiles source.
type MBTilesConfig struct {
	// Path is the .mbtiles file. It is opened read-only.
	Path string
	// Name identifies the source; empty uses the file name.
	Name string
}

// MBTiles reads tiles from an MBTiles (SQLite) file. Rows are stored in
// TMS order and flipped to XYZ on lookup.
type MBTiles struct {
	name string
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenMBTiles opens the file named by cfg. The returned source must be
// closed.
func OpenMBTiles(cfg MBTilesConfig) (*MBTiles, error) {
	if cfg.Path == "" {
		return nil, errors.New("provider: mbtiles: empty path")
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("provider: mbtiles: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("provider: mbtiles: %w", err)
	}
	stmt, err := db.Prepare("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("provider: mbtiles: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(cfg.Path), filepath.Ext(cfg.Path))
	}
	tilecache.Logger().Debug("provider: mbtiles opened", "name", name, "path", cfg.Path)
	return &MBTiles{name: name, db: db, stmt: stmt}, nil
}

// Name implements Source.
func (m *MBTiles) Name() string { return "mbtiles:" + m.name }

// Get implements Source.
func (m *MBTiles) Get(ctx context.Context, t maptile.Tile) ([]byte, error) {
	row := (uint32(1) << uint32(t.Z)) - 1 - t.Y // XYZ -> TMS

	var data []byte
	err := m.stmt.QueryRowContext(ctx, uint32(t.Z), t.X, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Metadata returns the name/value rows of the metadata table.
func (m *MBTiles) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("provider: mbtiles metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		meta[name] = value
	}
	return meta, rows.Err()
}

// Close releases the database.
func (m *MBTiles) Close() error {
	return errors.Join(m.stmt.Close(), m.db.Close())
}
