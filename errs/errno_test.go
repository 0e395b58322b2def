package errs_test

import (
	"testing"

	"github.com/dargueta/fat32engine/errs"
	"github.com/stretchr/testify/assert"
)

func TestDriverErrorWithMessage(t *testing.T) {
	err := errs.Newf(errs.VolumeFull, "table scan wrapped with no free cluster")
	assert.Equal(t, "table scan wrapped with no free cluster", err.Error())
	assert.ErrorIs(t, err, errs.ErrVolumeFull)
}

func TestDriverErrorWrap(t *testing.T) {
	cause := assert.AnError
	err := errs.Wrap(errs.BadValue, cause)
	assert.Contains(t, err.Error(), cause.Error())
	assert.ErrorIs(t, err, errs.ErrBadValue)
}

func TestDriverErrorDistinctCodesNotEqual(t *testing.T) {
	a := errs.New(errs.EntryMissing)
	b := errs.New(errs.EntryExists)
	assert.NotErrorIs(t, a, b)
}
