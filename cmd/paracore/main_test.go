package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestNewIDCommand(t *testing.T) {
	out, err := execute(t, "newid", "-n", "3")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, 3)
	assert.NotEqual(t, lines[0], lines[1])
	assert.NotEqual(t, lines[1], lines[2])
}

func TestNewIDCommand_Decompose(t *testing.T) {
	t.Setenv("PARACORE_IDGEN_WORKER_ID", "9")

	out, err := execute(t, "newid", "--decompose")
	require.NoError(t, err)
	assert.Contains(t, out, "worker=9")
	assert.Contains(t, out, "datacenter=1")
}

func TestConfigPrintCommand(t *testing.T) {
	out, err := execute(t, "config", "print")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: memory")
	assert.Contains(t, out, "level: error")
}

func TestRebuildIndexCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "objects.db")

	st, err := store.OpenSQLite(dbPath, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		obj := model.NewObject("t1", model.TypeSysprop)
		obj.ID = id
		if id == "c" {
			obj.SetIndexed(false)
		}
		_, err := st.Create(ctx, "t1", obj)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	cfgPath := filepath.Join(dir, "paracore.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  backend: sqlite\n  sqlite_path: "+dbPath+"\n"), 0o600))

	out, err := execute(t, "rebuild-index", "-c", cfgPath, "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 objects of t1 into t1")
}

func TestRebuildIndexCommand_RequiresTenant(t *testing.T) {
	_, err := execute(t, "rebuild-index")
	assert.Error(t, err)
}
