//go:build !windows

package redproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	ctx := context.Background()

	status, stdout, stderr, err := Run(ctx, []string{"echo", "hello"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, "hello\n", string(stdout))
	assert.Empty(t, stderr)
}

func TestRunNonZeroExit(t *testing.T) {
	ctx := context.Background()

	status, _, stderr, err := Run(ctx, []string{"sh", "-c", "echo oops >&2; exit 3"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Equal(t, "oops\n", string(stderr))
}

func TestRunWithInput(t *testing.T) {
	ctx := context.Background()

	status, stdout, _, err := Run(ctx, []string{"cat"}, Options{Input: []byte(echoMessage)})
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, echoMessage, string(stdout))
}
