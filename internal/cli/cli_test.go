package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/recipe-ingest/constants"
	ingestsvc "github.com/joseph-ayodele/recipe-ingest/internal/services/ingest"
)

const pancakes = `Classic Pancakes

Ingredients:
2 cups flour
2 large eggs
1 cup milk

Instructions:
1. Whisk everything together.
2. Fry in a hot pan until golden.
`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("UPLOAD_DIR", t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func TestSubmit_WaitPrintsFinalStatus(t *testing.T) {
	out, err := run(t, pancakes, "submit", "--user", uuid.NewString(), "--wait", "5s", "-")
	require.NoError(t, err)

	var st ingestsvc.JobStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, constants.StageCompleted, st.Stage)
	assert.Equal(t, 1, st.RecipesSaved)
	assert.NotEmpty(t, st.Logs)
}

func TestStatus_UnknownJob(t *testing.T) {
	_, err := run(t, "", "status", uuid.NewString())
	assert.Error(t, err)
}

func TestExport_WritesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "recipes.xlsx")
	out, err := run(t, "", "export", "--from", "2026-01-01", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}

func TestExport_BadDate(t *testing.T) {
	t.Cleanup(func() { exportFrom = "" })
	_, err := run(t, "", "export", "--from", "yesterday")
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestInferKind(t *testing.T) {
	img := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(img, []byte("x"), 0o644))

	assert.Equal(t, "url", inferKind("HTTPS://example.com/r"))
	assert.Equal(t, "image", inferKind(img))
	assert.Equal(t, "text", inferKind("2 cups flour"))
}
