package thin

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLogWriters(t *testing.T) {
	var diag bytes.Buffer
	SetLogWriters(nil, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	th := &VoxelThinner{VoxelSize: 0.1, PreserveBoundaries: true}
	_, _, err := th.Thin(context.Background(), noisyBox(7))
	require.NoError(t, err)

	out := diag.String()
	if !strings.Contains(out, "[thin] ") || !strings.Contains(out, "thinned 5000 ->") {
		t.Errorf("diag stream = %q, want a [thin] thinning summary", out)
	}
}
