package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/panelapp-backend/internal/app"
)

func TestConfigOptions(t *testing.T) {
	t.Cleanup(func() { dbDriver, sqlitePath = "", "" })

	cfg := app.Config{DatabaseDriver: app.DriverPostgres, SQLitePath: "panelapp.db"}
	for _, opt := range configOptions() {
		opt(&cfg)
	}
	assert.Equal(t, app.DriverPostgres, cfg.DatabaseDriver)

	dbDriver, sqlitePath = app.DriverSQLite, "/tmp/x.db"
	for _, opt := range configOptions(func(c *app.Config) { c.RunWorker = false }) {
		opt(&cfg)
	}
	assert.Equal(t, app.DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.False(t, cfg.RunWorker)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"worker"}, {"migrate"}, {"seed"},
		{"release", "import"}, {"release", "export"}, {"release", "deploy"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
	assert.NotNil(t, releaseDeployCmd.Flags().Lookup("wait"))
	assert.NotNil(t, releaseCmd.PersistentFlags().Lookup("id"))
}
