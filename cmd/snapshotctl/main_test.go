package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const legacySnapshot = `{
  "currentPatient": null,
  "history": [],
  "currentPatientList": [
    {"NOMBRE Y APELLIDO": "A"},
    {"_id": "k", "NOMBRE Y APELLIDO": "B"},
    {"_id": "k", "NOMBRE Y APELLIDO": "C"}
  ]
}`

func writeLegacy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(legacySnapshot), 0o600))
	return path
}

func TestInspect(t *testing.T) {
	path := writeLegacy(t)
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"inspect", "--path", path}, &out, &errOut))

	var s summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, 3, s.Roster)
	assert.Equal(t, 1, s.MissingIDs)
	assert.Equal(t, []string{"k"}, s.DuplicateIDs)
	assert.False(t, s.Active)
}

func TestHealThenInspect(t *testing.T) {
	path := writeLegacy(t)
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"heal", "-p", path}, &out, &errOut))
	assert.Contains(t, out.String(), "healed 2 roster entries")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)

	out.Reset()
	require.NoError(t, run([]string{"inspect", "-p", path, "--format", "yaml"}, &out, &errOut))
	var s summary
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, 0, s.MissingIDs)
	assert.Empty(t, s.DuplicateIDs)
}

func TestExportYAML(t *testing.T) {
	path := writeLegacy(t)
	var out, errOut bytes.Buffer
	require.NoError(t, run([]string{"export", "--path", path, "-f", "yaml"}, &out, &errOut))
	assert.Contains(t, out.String(), "version: 2")
	assert.Contains(t, out.String(), "NOMBRE Y APELLIDO: B")
	assert.Contains(t, out.String(), "active: null")
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	var out, errOut bytes.Buffer
	err := run([]string{"inspect", "--backend", "sqlite", "--path", path}, &out, &errOut)
	assert.ErrorContains(t, err, "no snapshot stored")
}

func TestUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Error(t, run(nil, &out, &errOut))
	assert.Contains(t, errOut.String(), "Usage: snapshotctl")
	assert.Error(t, run([]string{"bogus", "--path", filepath.Join(t.TempDir(), "x.json")}, &out, &errOut))
	assert.Error(t, run([]string{"inspect", "--format", "xml"}, &out, &errOut))
	assert.NoError(t, run([]string{"--help"}, &out, &errOut))
}
