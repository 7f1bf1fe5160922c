package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	body := `
[borrow.subscribers.audit]
post = "http://example.com/borrow"
mustSucceed = false
async = false

[return.subscribers.sink]
post = "http://example.com/return"
mustSucceed = true
async = true
`
	dir := t.TempDir()
	path := filepath.Join(dir, "poolbroker.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	borrow := cfg.BorrowSubscribers()
	require.Len(t, borrow, 1)
	assert.Equal(t, "http://example.com/borrow", borrow["audit"].Post)
	assert.False(t, borrow["audit"].MustSucceed)

	ret := cfg.ReturnSubscribers()
	require.Len(t, ret, 1)
	assert.True(t, ret["sink"].MustSucceed)
	assert.True(t, ret["sink"].Async)

	assert.Empty(t, cfg.SubmitSubscribers())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/poolbroker.toml")
	assert.Error(t, err)
}
