package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := BuildCLI()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func inlineConfig(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "esminify.yml")
	writeFile(t, p, "cache: false\nparallel: false\n")
	return p
}

func TestRun_MinifiesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "var a=1;   ")
	writeFile(t, filepath.Join(dir, "nested", "b.js"), "function f(){ return  2 }")
	writeFile(t, filepath.Join(dir, "c.css"), "a {  }")

	_, err := execute(t, "run", dir, "-c", inlineConfig(t))
	require.NoError(t, err)

	a, _ := os.ReadFile(filepath.Join(dir, "a.js"))
	b, _ := os.ReadFile(filepath.Join(dir, "nested", "b.js"))
	c, _ := os.ReadFile(filepath.Join(dir, "c.css"))
	assert.Equal(t, "var a=1;", strings.TrimSpace(string(a)))
	assert.Equal(t, "function f(){return 2}", strings.TrimSpace(string(b)))
	assert.Equal(t, "a {  }", string(c))
}

func TestRun_ReportsErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.js"), "var = ;")
	writeFile(t, filepath.Join(dir, "good.js"), "let  x = 1;")

	out, err := execute(t, "run", dir, "-c", inlineConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 asset(s) failed")
	assert.Contains(t, out, "error: bad.js from ESBuild")

	bad, _ := os.ReadFile(filepath.Join(dir, "bad.js"))
	assert.Equal(t, "var = ;", string(bad))
	good, _ := os.ReadFile(filepath.Join(dir, "good.js"))
	assert.Equal(t, "let x=1;", strings.TrimSpace(string(good)))
}

func TestConfig_PrintsEffectiveValues(t *testing.T) {
	t.Setenv("ESMINIFY__MINIFY__TARGET", "es2019")
	out, err := execute(t, "config", "-c", inlineConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "cache: false")
	assert.Contains(t, out, "parallel: false")
	assert.Contains(t, out, "target: es2019")
	assert.Contains(t, out, "hash_function: md5")
}

func TestCacheKey_ChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "var a = 1;")
	cfg := inlineConfig(t)

	first, err := execute(t, "cache-key", dir, "a.js", "-c", cfg)
	require.NoError(t, err)
	again, err := execute(t, "cache-key", dir, "a.js", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Contains(t, first, "key:")

	writeFile(t, filepath.Join(dir, "a.js"), "var a = 2;")
	changed, err := execute(t, "cache-key", dir, "a.js", "-c", cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestWorker_NeedsAddress(t *testing.T) {
	t.Setenv("ESMINIFY_WORKER_LISTEN", "")
	_, err := execute(t, "worker", "-c", inlineConfig(t))
	assert.Error(t, err)
}

func TestWorker_IgnoresLocalConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "esminify.yml"), "output: { hash_function: crc32 }\n")
	t.Chdir(dir)
	t.Setenv("ESMINIFY_WORKER_LISTEN", "")

	_, err := execute(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no address", "the stray file is never read")

	_, err = execute(t, "config")
	assert.Error(t, err, "other commands still load it")
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yml")
	writeFile(t, p, "output: { hash_function: crc32 }\n")
	_, err := execute(t, "config", "-c", p)
	assert.Error(t, err)
}
