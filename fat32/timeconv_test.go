package fat32

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpackDateTimeRoundTrip(t *testing.T) {
	original := time.Date(2024, time.March, 15, 13, 42, 30, 0, time.UTC)
	date := packDate(original)
	clock := packTime(original)

	got := unpackDateTime(date, clock)
	assert.Equal(t, original.Year(), got.Year())
	assert.Equal(t, original.Month(), got.Month())
	assert.Equal(t, original.Day(), got.Day())
	assert.Equal(t, original.Hour(), got.Hour())
	assert.Equal(t, original.Minute(), got.Minute())
	// FAT time only has 2-second resolution.
	assert.Equal(t, original.Second()/2*2, got.Second())
}

func TestPackDateEpoch(t *testing.T) {
	epoch := time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, uint16(1|1<<5), packDate(epoch))
}
