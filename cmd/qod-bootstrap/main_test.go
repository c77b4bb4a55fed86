package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camaraproject/QualityOnDemand-PI3/pkg/provisioning"
)

const mixedSeed = `
records:
  - accessIdentifier: 10.10.1.100
    externalApplicationId: spryfoxnetworks
    qosProfileMap: {QOS_E: qos-66, QOS_S: qos-77, QOS_M: qos-88, QOS_L: qos-99}
  - accessIdentifier: 10.10.1.101
    qosProfileMap: {QOS_E: qos-66}
  - accessIdentifier: 10.10.1.102
    externalApplicationId: app
    qosProfileMap: {QOS_X: qos-1}
  - accessIdentifier: 10.10.1.103
    externalApplicationId: app
    qosProfileMap: {QOS_M: qos-88}
`

// cleanEnv pins every variable the loader reads so the host environment
// cannot leak into a run.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"QOD_STORE_TIMEOUT", "QOD_STORE_RETRY_ONCE", "LOG_LEVEL", "LOG_FORMAT",
		"NATS_URL", "NATS_SUBJECT", "SNAPSHOT_STORAGE_TYPE", "SNAPSHOT_DIR",
		"SNAPSHOT_S3_BUCKET", "SNAPSHOT_S3_REGION", "SNAPSHOT_S3_ENDPOINT", "SNAPSHOT_S3_PREFIX",
		"SNAPSHOT_GCS_BUCKET", "SNAPSHOT_GCS_PREFIX", "OTEL_ENABLED",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_INSECURE", "QOD_SEED_RATE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("QOD_STORE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "ERROR")
}

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runJSON(t *testing.T, args ...string) (int, result, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"qod-bootstrap", "-json"}, args...), &stdout, &stderr)
	var res result
	if stdout.Len() > 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &res), stdout.String())
	}
	return code, res, stderr.String()
}

func TestRunExampleSeed(t *testing.T) {
	cleanEnv(t)
	code, res, stderr := runJSON(t, "-seed", filepath.Join("..", "..", "examples", "seed", "qod-provision.yaml"))
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Provisioned)
	assert.NotEmpty(t, res.BatchID)
	assert.Empty(t, res.Failures)
}

func TestRunPartialFailure(t *testing.T) {
	cleanEnv(t)
	code, res, _ := runJSON(t, "-seed", writeSeed(t, mixedSeed))
	require.Equal(t, exitPartial, code)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Provisioned)

	assert.Empty(t, res.Rejected)

	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, provisioning.KindEmptyApplicationID, res.Failures[0].Kind)
	assert.Equal(t, 2, res.Failures[1].Index, "failure index refers to the seed file position")
	assert.Equal(t, provisioning.KindUnsupportedProfileLabel, res.Failures[1].Kind)
}

func TestRunReportsKindForEveryBadRecord(t *testing.T) {
	cleanEnv(t)
	code, res, _ := runJSON(t, "-seed", writeSeed(t, `
records:
  - accessIdentifier: 10.10.1.100
    externalApplicationId: spryfoxnetworks
    qosProfileMap: {QOS_E: qos-66}
  - accessIdentifier: ""
    externalApplicationId: app
    qosProfileMap: {QOS_E: qos-66}
  - accessIdentifier: 10.10.1.102
    externalApplicationId: app
    qosProfileMap:
  - accessIdentifier: 10.10.1.103
    externalApplicationId: app
    qosProfileMap: [QOS_E]
`))
	require.Equal(t, exitPartial, code)
	assert.Equal(t, 1, res.Succeeded)

	kinds := map[int]provisioning.ErrorKind{}
	for _, f := range res.Failures {
		kinds[f.Index] = f.Kind
	}
	for _, r := range res.Rejected {
		kinds[r.Index] = r.Kind
	}
	assert.Equal(t, map[int]provisioning.ErrorKind{
		1: provisioning.KindInvalidAddress,
		2: provisioning.KindEmptyProfileMap,
		3: provisioning.KindMalformedRecord,
	}, kinds)
}

func TestRunDryRun(t *testing.T) {
	cleanEnv(t)
	// An unreachable backend proves dry-run never opens the store.
	t.Setenv("QOD_STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")

	code, res, _ := runJSON(t, "-dry-run", "-seed", writeSeed(t, mixedSeed))
	require.Equal(t, exitPartial, code)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Succeeded)
	assert.Empty(t, res.BatchID)
	assert.Zero(t, res.Provisioned)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, 2, res.Failures[1].Index)
}

func TestRunSnapshotRoundTrip(t *testing.T) {
	cleanEnv(t)
	t.Setenv("SNAPSHOT_STORAGE_TYPE", "fs")
	t.Setenv("SNAPSHOT_DIR", t.TempDir())

	code, first, stderr := runJSON(t, "-seed", filepath.Join("..", "..", "examples", "seed", "qod-provision.yaml"))
	require.Equal(t, exitOK, code, stderr)
	assert.True(t, strings.HasPrefix(first.Snapshot, "sha256:"), first.Snapshot)
	assert.Zero(t, first.Restored)

	// A fresh memory store picks up the first run's records from the snapshot.
	code, second, stderr := runJSON(t, "-seed", writeSeed(t, `
records:
  - accessIdentifier: 10.10.1.103
    externalApplicationId: app
    qosProfileMap: {QOS_M: qos-88}
`))
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 1, second.Restored)
	assert.Equal(t, 2, second.Provisioned)
	assert.NotEqual(t, first.Snapshot, second.Snapshot)
}

func TestRunExportFailureKeepsReport(t *testing.T) {
	cleanEnv(t)
	dir := t.TempDir()
	// A directory where HEAD's temp file goes makes SetHead fail after the batch.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "HEAD.tmp"), 0o755))
	t.Setenv("SNAPSHOT_STORAGE_TYPE", "fs")
	t.Setenv("SNAPSHOT_DIR", dir)

	code, res, stderr := runJSON(t, "-seed", writeSeed(t, mixedSeed))
	require.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "failed to export snapshot")
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Provisioned)
	assert.Len(t, res.Failures, 2)
	assert.Empty(t, res.Snapshot)
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"qod-bootstrap", "-version"}, &stdout, &stderr)
	require.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "qod-bootstrap "+Version+" (commit "+CommitHash), stdout.String())
	assert.Empty(t, stderr.String())
}

func TestRunSQLiteStore(t *testing.T) {
	cleanEnv(t)
	t.Setenv("QOD_STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "qod.db"))
	seedPath := writeSeed(t, mixedSeed)

	code, res, _ := runJSON(t, "-seed", seedPath)
	require.Equal(t, exitPartial, code)
	assert.Equal(t, 2, res.Provisioned)

	// Records persist across runs; re-provisioning them is an upsert.
	code, res, _ = runJSON(t, "-seed", seedPath)
	require.Equal(t, exitPartial, code)
	assert.Equal(t, 2, res.Provisioned)
}

func TestRunTextReport(t *testing.T) {
	cleanEnv(t)
	var stdout, stderr bytes.Buffer
	code := Run([]string{"qod-bootstrap", "-seed", writeSeed(t, mixedSeed)}, &stdout, &stderr)
	require.Equal(t, exitPartial, code)

	out := stdout.String()
	assert.Contains(t, out, "provisioned 2/4 records")
	assert.Contains(t, out, "[1] 10.10.1.101 empty_application_id")
	assert.Contains(t, out, "[2] 10.10.1.102 unsupported_profile_label")
	assert.Less(t, strings.Index(out, "[1]"), strings.Index(out, "[2]"))
}

func TestRunUsageErrors(t *testing.T) {
	cleanEnv(t)
	seedPath := writeSeed(t, mixedSeed)

	tests := map[string]struct {
		args []string
		env  map[string]string
	}{
		"missing seed":   {args: nil},
		"unknown flag":   {args: []string{"-seed", seedPath, "-bogus"}},
		"seed not found": {args: []string{"-seed", filepath.Join(t.TempDir(), "none.yaml")}},
		"bad seed":       {args: []string{"-seed", writeSeed(t, "records: nope")}},
		"bad driver":     {args: []string{"-seed", seedPath}, env: map[string]string{"QOD_STORE_DRIVER": "mongo"}},
		"config missing": {args: []string{"-seed", seedPath, "-config", filepath.Join(t.TempDir(), "qod.yaml")}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var stdout, stderr bytes.Buffer
			code := Run(append([]string{"qod-bootstrap"}, tt.args...), &stdout, &stderr)
			assert.Equal(t, exitUsage, code)
			assert.Empty(t, stdout.String())
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRunWithConfigFile(t *testing.T) {
	cleanEnv(t)
	t.Setenv("QOD_STORE_DRIVER", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "qod.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
store:
  driver: sqlite
  sqlite_path: `+filepath.Join(dir, "qod.db")+`
  retry_once: true
log:
  level: ERROR
  format: json
seed:
  rate: 1000
`), 0o600))

	code, res, stderr := runJSON(t, "-config", cfgPath, "-seed", filepath.Join("..", "..", "examples", "seed", "qod-provision.yaml"))
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, 1, res.Provisioned)
	_, err := os.Stat(filepath.Join(dir, "qod.db"))
	assert.NoError(t, err)
}
