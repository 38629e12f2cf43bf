package database

import (
	"context"
	"testing"
	"testing/fstest"

	"quill/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_OrdersAndPairsScripts(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000002_add_index.up.sql":   {Data: []byte("CREATE INDEX a ON t (x);")},
		"m/000002_add_index.down.sql": {Data: []byte("DROP INDEX a;")},
		"m/000001_init.up.sql":        {Data: []byte("CREATE TABLE t (x INT);")},
		"m/000001_init.down.sql":      {Data: []byte("DROP TABLE t;")},
		"m/README.md":                 {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "init", got[0].Name)
	assert.Equal(t, "DROP TABLE t;", got[0].DownScript)
	assert.Equal(t, "000002_add_index", got[1].String())
}

func TestLoadMigrations_MissingDownScript(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000001_init.up.sql": {Data: []byte("CREATE TABLE t (x INT);")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}

func TestEmbeddedMigrations_Registered(t *testing.T) {
	all := GetMigrations()
	require.NotEmpty(t, all)
	assert.Equal(t, 1, all[0].Version)
	assert.Contains(t, all[0].UpScript, "CREATE TABLE IF NOT EXISTS posts")
	assert.NotNil(t, GetMigrationByVersion(1))
	assert.Nil(t, GetMigrationByVersion(999999))
}

func TestRunMigrations_IsIdempotent(t *testing.T) {
	db := openSQLite(t)
	registered := []Migration{
		{Version: 1, Name: "widgets", UpScript: "CREATE TABLE widgets (id INTEGER PRIMARY KEY)", DownScript: "DROP TABLE widgets"},
	}
	ctx := context.Background()

	require.NoError(t, runMigrations(ctx, db, registered))
	require.NoError(t, runMigrations(ctx, db, registered))

	applied, err := NewMigrationStore(db).GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)
	assert.True(t, db.Migrator().HasTable("widgets"))
}

func TestValidateAppliedVersions_RejectsUnknown(t *testing.T) {
	err := validateAppliedVersions([]int{1, 7}, []Migration{{Version: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000007")
	assert.NoError(t, validateAppliedVersions(nil, nil))
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		wantSQL  bool
		wantAuto bool
		wantErr  bool
	}{
		{"hybrid development", config.Config{Env: "development"}, true, true, false},
		{"hybrid production", config.Config{Env: "production"}, true, false, false},
		{"sql only", config.Config{Env: "development", DBSchemaMode: "sql"}, true, false, false},
		{"auto refused in production", config.Config{Env: "production", DBSchemaMode: "auto"}, false, false, true},
		{"sqlite hybrid uses automigrate", config.Config{Env: "test", DBDriver: "sqlite"}, false, true, false},
		{"sqlite sql mode rejected", config.Config{Env: "test", DBDriver: "sqlite", DBSchemaMode: "sql"}, false, false, true},
		{"unknown mode", config.Config{Env: "development", DBSchemaMode: "yolo"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			runSQL, runAuto, err := schemaPolicy(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, runSQL)
			assert.Equal(t, tt.wantAuto, runAuto)
		})
	}
}
