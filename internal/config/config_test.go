package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("missing file uses defaults", func(t *testing.T) {
		t.Parallel()

		conf, err := Load(filepath.Join(t.TempDir(), DefaultFileName))
		require.NoError(t, err)

		assert.Equal(t, DefaultURI, conf.URI)
		assert.Equal(t, DefaultDatabase, conf.Database)
		assert.Equal(t, DefaultLogLevel, conf.LogLevel)
		require.NotNil(t, conf.AllowDiskUse)
		assert.True(t, *conf.AllowDiskUse)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), DefaultFileName)
		require.NoError(t, os.WriteFile(path, []byte(`
uri: mongodb://db.example.com:27017
database: reports
allowDiskUse: false
`), 0o600))

		conf, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "mongodb://db.example.com:27017", conf.URI)
		assert.Equal(t, "reports", conf.Database)
		assert.Equal(t, DefaultLogLevel, conf.LogLevel)
		require.NotNil(t, conf.AllowDiskUse)
		assert.False(t, *conf.AllowDiskUse)
	})

	t.Run("malformed file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), DefaultFileName)
		require.NoError(t, os.WriteFile(path, []byte("uri: [unterminated"), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})
}
