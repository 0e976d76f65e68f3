package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokesVCS(t *testing.T) {
	tests := []struct {
		script string
		want   bool
	}{
		{"git status", true},
		{"/usr/bin/git checkout main", true},
		{`make GIT=1 && "git" reset --hard HEAD~1`, true},
		{`'git' log`, true},
		{`g\it pull`, true},
		{"make; svn up", true},
		{"ls | fossil add", true},
		{"echo $(git rev-parse HEAD)", true},
		{"echo `hg id`", true},
		{"sudo -E bzr pull", true},
		{"env FOO=1 git pull", true},
		{"timeout 30 git fetch", true},
		{"nohup sh -c 'make && git clean -fdx'", true},
		{`bash -ec "git stash"`, true},
		{`eval "git reset --hard"`, true},
		{"git-upload-pack .", true},
		{"if true; then git pull; fi", true},
		{"time git gc", true},

		{"cargo build --features git", false},
		{"./build.sh --no-git-check", false},
		{"echo legit", false},
		{"make digits", false},
		{"GIT_DIR=/dev/null make", false},
		{"cp -r .git-template out", false},
		{"bash scripts/build.sh", false},
		{"docker run --rm builder make", false},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			got, err := invokesVCS(tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInvokesVCSRejectsInvalidShell(t *testing.T) {
	_, err := invokesVCS("echo 'unterminated")
	assert.Error(t, err)
}
