package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keysweep/internal/config"
	"github.com/dreamware/keysweep/internal/oracle"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestRunStaticTarget(t *testing.T) {
	out, err := execute(t, "run", "--target", "9", "--end", "15", "-n", "4", "-r", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Rep 1: elapsed = ")
	assert.Contains(t, out, "Rep 2: elapsed = ")
	assert.Contains(t, out, "Average elapsed over 2 runs: ")
	assert.Contains(t, out, "FOUND: 9\n")
}

func TestRunDynamicTarget(t *testing.T) {
	out, err := execute(t, "run", "--target", "427", "--end", "999",
		"--strategy", "dynamic", "--chunk", "100", "-n", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "DYNAMIC result: N=4, chunk=100, time=")
	assert.Contains(t, out, "found_key=427")
	assert.Contains(t, out, "FOUND: 427\n")
}

func TestRunNotFound(t *testing.T) {
	out, err := execute(t, "run", "--target", "5000", "--end", "99", "-n", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "No key found in the given range.")
}

func TestRunRejectsBadJob(t *testing.T) {
	out, err := execute(t, "run", "--target", "1", "--start", "10", "--end", "5", "-n", "2")
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Empty(t, out, "no report for a rejected job")

	_, err = execute(t, "run", "--end", "5", "-n", "2")
	assert.ErrorIs(t, err, config.ErrConfiguration, "no oracle")

	_, err = execute(t, "run", "--target", "1", "--strategy", "random")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestRunConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keyspace_end: 999\nchunk_size: 50\nstrategy: dynamic\nparticipants: 3\n"), 0o600))

	out, err := execute(t, "run", "--config", path, "--target", "10", "--chunk", "25")
	require.NoError(t, err)
	assert.Contains(t, out, "DYNAMIC result: N=3, chunk=25,")
	assert.Contains(t, out, "FOUND: 10\n")
}

func TestEncryptSearchDecrypt(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	cipher := filepath.Join(dir, "cipher.bin")
	keyword := filepath.Join(dir, "keyword.txt")
	require.NoError(t, os.WriteFile(plain, []byte("the eagle lands at noon"), 0o600))
	require.NoError(t, os.WriteFile(keyword, []byte("eagle\r\n"), 0o600))

	out, err := execute(t, "encrypt", "--key", "123456", "--in", plain, "--out", cipher)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 24 bytes")

	out, err = execute(t, "run", "--cipher", cipher, "--keyword", keyword,
		"--start", "123440", "--end", "123470", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, " -> the eagle lands at noon\n")

	out, err = execute(t, "decrypt", "--key", "123456", "--in", cipher)
	require.NoError(t, err)
	assert.Equal(t, "the eagle lands at noon\n", out)
}

func TestEncryptRefusesLargeInput(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(plain, make([]byte, oracle.MaxPlaintext+1), 0o600))

	_, err := execute(t, "encrypt", "--key", "1", "--in", plain, "--out", filepath.Join(dir, "out.bin"))
	assert.ErrorIs(t, err, oracle.ErrPayload)
}

func TestRunEmptyKeyword(t *testing.T) {
	dir := t.TempDir()
	cipher := filepath.Join(dir, "cipher.bin")
	keyword := filepath.Join(dir, "keyword.txt")
	require.NoError(t, os.WriteFile(cipher, make([]byte, 16), 0o600))
	require.NoError(t, os.WriteFile(keyword, []byte("\n"), 0o600))

	_, err := execute(t, "run", "--cipher", cipher, "--keyword", keyword, "--end", "9", "-n", "1")
	assert.ErrorIs(t, err, oracle.ErrPayload)
}

func TestBadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "chatty", "run", "--target", "1", "--end", "9")
	assert.Error(t, err)
}

func TestGetenv(t *testing.T) {
	t.Setenv("KEYSWEEP_TEST_VAR", "set")
	assert.Equal(t, "set", getenv("KEYSWEEP_TEST_VAR", "default"))
	assert.Equal(t, "default", getenv("KEYSWEEP_TEST_UNSET", "default"))
}
