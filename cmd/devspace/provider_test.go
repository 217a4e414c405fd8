package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devspace/config"
	"github.com/dshills/devspace/model"
	"github.com/dshills/devspace/workflow/store"
)

func TestNewModel(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.Provider = "mock"
	m, err := newModel(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &model.MockModel{}, m)

	cfg.AI.Provider = "llama"
	_, err = newModel(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewLedger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ledger.Driver = "memory"
	l, closeFn, err := newLedger(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.MemStore{}, l)
	assert.NoError(t, closeFn())

	cfg.Ledger.Driver = "sqlite"
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "runs.db")
	l, closeFn, err = newLedger(cfg)
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, l)
	assert.NoError(t, closeFn())
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "devspace dev\n", out.String())
}

func TestInstanceID(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.InstanceID = "node-7"
	assert.Equal(t, "node-7", instanceID(cfg))

	cfg.Server.InstanceID = ""
	host, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, host, instanceID(cfg))
}
