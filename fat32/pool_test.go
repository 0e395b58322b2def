package fat32

import (
	"testing"

	"github.com/dargueta/fat32engine/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireReleaseReuse(t *testing.T) {
	p := NewPool(2, func() int { return 0 })

	v1, idx1, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, v1)

	_, idx2, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, idx1, idx2)

	_, _, err = p.Acquire()
	assert.ErrorIs(t, err, errs.ErrAllocFailed)

	p.Release(idx1)
	_, _, err = p.Acquire()
	require.NoError(t, err)
}

func TestPoolInUseAccounting(t *testing.T) {
	p := NewPool(3, func() int { return 0 })
	assert.Equal(t, 0, p.InUse())

	_, idx, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, p.InUse())

	p.Release(idx)
	assert.Equal(t, 0, p.InUse())
}
