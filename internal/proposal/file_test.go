package proposal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSourceYAML(t *testing.T) {
	dir := t.TempDir()
	doc := "id: \"42\"\ntitle: Upgrade\nsummary: see commit\nexpectedArtifactHash: 0X" + testHash + "\ncommitHash: " + testCommit + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "42.yaml"), []byte(doc), 0644))

	rec, err := (&FileSource{Dir: dir}).Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, testHash, rec.ExpectedArtifactHash)
	assert.Equal(t, testCommit, rec.CommitHash)
}

func TestFileSourceJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "42.json"), []byte(`{"title": "Motion", "summary": "no payload"}`), 0644))

	rec, err := (&FileSource{Dir: dir}).Get(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", rec.ID)
	assert.False(t, rec.HasStructuredAction())
}

func TestFileSourceNotFound(t *testing.T) {
	_, err := (&FileSource{Dir: t.TempDir()}).Get(context.Background(), "42")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileSourceRejectsPathIDs(t *testing.T) {
	for _, id := range []string{"", "..", "../42", `a\b`} {
		_, err := (&FileSource{Dir: t.TempDir()}).Get(context.Background(), id)
		var malformed *MalformedError
		assert.ErrorAs(t, err, &malformed, "id %q", id)
	}
}

func TestFileSourceMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong id", "id: \"7\"\ntitle: t\n"},
		{"bad commit", "title: t\ncommitHash: nothex\n"},
		{"bad hash", "title: t\nexpectedArtifactHash: zz\n"},
		{"empty", "action: InstallCode\n"},
		{"invalid yaml", "{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "42.yaml"), []byte(tt.doc), 0644))
			_, err := (&FileSource{Dir: dir}).Get(context.Background(), "42")
			var malformed *MalformedError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}
