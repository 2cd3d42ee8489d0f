package global

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "unknown", Version(context.Background()))
	assert.Equal(t, "1.2.3", Version(context.WithValue(context.Background(), VersionKey, "1.2.3")))
}

func TestCancel(t *testing.T) {
	Cancel(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, CancelKey, cancel)
	Cancel(ctx)
	assert.Error(t, ctx.Err())
}
