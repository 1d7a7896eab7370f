package datapack

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestInspectDirAndZip(t *testing.T) {
	root := t.TempDir()

	dir := filepath.Join(root, "towers")
	writeFile(t, filepath.Join(dir, "data", "towers", "worldgen", "structure", "tower.json"), "{}")
	writeFile(t, filepath.Join(dir, "data", "towers", "loot_table", "chests", "tower.json"), "{}")
	writeFile(t, filepath.Join(dir, "data", "minecraft", "worldgen", "structure", "igloo.json"), "{}")
	writeFile(t, filepath.Join(dir, "pack.mcmeta"), "{}")

	zipPath := filepath.Join(root, "loot.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{
		"data/minecraft/loot_tables/chests/simple_dungeon.json",
		"data/towers/worldgen/structure/tower.json",
		"data/other/readme.txt",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("{}"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	in, err := Inspect([]string{dir, zipPath, filepath.Join(root, "missing")})
	require.NoError(t, err)

	assert.Equal(t, []string{"towers:tower"}, in.AddedStructures)
	assert.Equal(t, []string{"minecraft:igloo"}, in.OverriddenStructures)
	assert.Equal(t, []string{"towers:chests/tower"}, in.AddedLootTables)
	assert.Equal(t, []string{"minecraft:chests/simple_dungeon"}, in.OverriddenLootTables)
	assert.False(t, in.Empty())
}

func TestHashTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data", "a", "x.json"), "one")

	first, err := Hash(dir)
	require.NoError(t, err)
	again, err := Hash(dir)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	writeFile(t, filepath.Join(dir, "data", "a", "x.json"), "two")
	changed, err := Hash(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	sums, err := HashAll([]string{dir, filepath.Join(dir, "nope")})
	require.NoError(t, err)
	assert.Equal(t, []string{changed}, sums)
}
