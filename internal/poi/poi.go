// Package poi loads points of interest from PostgreSQL and places them in a scene.
package poi

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strconv"

	_ "github.com/lib/pq"

	"ar-engine/internal/projector"
	"ar-engine/internal/scene"
)

// DefaultGroup holds places stored without a group.
const DefaultGroup = "poi"

// Place is one row of the POI table.
type Place struct {
	ID       int64
	Name     string
	Group    string
	Position projector.GeoPosition
	ImageURI string
}

// Store reads places from a table with the columns
// id, name, grp, lat, lon, alt, image_uri.
type Store struct {
	db    *sql.DB
	table string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// AttachDB wraps an open database.
func AttachDB(db *sql.DB, table string) (*Store, error) {
	if table == "" {
		table = "poi"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("poi: invalid table name %q", table)
	}
	return &Store{db: db, table: table}, nil
}

// Open connects with dsn and configures the pool from PG_MAX_OPEN_CONNS and
// PG_MAX_IDLE_CONNS.
func Open(dsn, table string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("poi: %w", err)
	}
	maxOpen, maxIdle := 4, 2
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			maxOpen = n
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			maxIdle = n
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	s, err := AttachDB(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// BuildDSNFromEnv assembles a DSN from PG_HOST, PG_PORT, PG_USER, PG_PASSWORD,
// PG_DB and PG_SSLMODE. DATABASE_URL wins when set.
func BuildDSNFromEnv() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := getenv("PG_HOST", "localhost")
	port := getenv("PG_PORT", "5432")
	user := getenv("PG_USER", "postgres")
	pass := os.Getenv("PG_PASSWORD")
	db := getenv("PG_DB", "arview")
	ssl := getenv("PG_SSLMODE", "disable")
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	return dsn + "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns every place ordered by group and id.
func (s *Store) Load(ctx context.Context) ([]Place, error) {
	q := "SELECT id, name, COALESCE(grp, ''), lat, lon, COALESCE(alt, 0), COALESCE(image_uri, '') FROM " +
		s.table + " ORDER BY grp, id"
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("poi: %w", err)
	}
	defer rows.Close()
	var out []Place
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Group, &p.Position.Lat, &p.Position.Lon, &p.Position.Alt, &p.ImageURI); err != nil {
			return nil, fmt.Errorf("poi: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("poi: %w", err)
	}
	return out, nil
}

// Populate adds a geo object per place to w. Places without a group go to
// DefaultGroup.
func Populate(w *scene.World, places []Place) ([]*scene.Object, error) {
	objs := make([]*scene.Object, 0, len(places))
	for _, p := range places {
		group := p.Group
		if group == "" {
			group = DefaultGroup
		}
		o := scene.NewGeoObject(p.Position, p.ImageURI)
		if err := w.Add(o, group); err != nil {
			return objs, fmt.Errorf("poi: place %d: %w", p.ID, err)
		}
		objs = append(objs, o)
	}
	return objs, nil
}
