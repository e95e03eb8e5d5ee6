package specification

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type row struct {
	Id   uuid.UUID
	Name string
}

func TestSpecifications_SQL(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=test dbname=test sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	id := uuid.New()
	tests := []struct {
		name     string
		spec     Specification
		contains string
	}{
		{"by id", ByID{ID: id}, "id = $1"},
		{"order desc", OrderBy{Field: "chunk_index", Desc: true}, `ORDER BY "chunk_index" DESC`},
		{"filter quoted", Filter("status", "pending"), `"status" = $1`},
		{"name case-insensitive", ByName{Name: "Toiture"}, "LOWER(name) = LOWER($1)"},
		{"not indexed", NotIndexed{}, "is_indexed = $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := tt.spec.Apply(db.Table("rows")).Find(&[]row{}).Statement
			assert.Contains(t, stmt.SQL.String(), tt.contains)
		})
	}
}
