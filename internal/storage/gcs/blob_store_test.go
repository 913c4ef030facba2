package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "snapshots/a.html", objectKey("", "/snapshots/a.html"))
	require.Equal(t, "brandkit/snapshots/a.html", objectKey("brandkit", "snapshots/a.html"))
}
