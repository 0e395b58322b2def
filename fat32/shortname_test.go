package fat32

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillShortNameClean(t *testing.T) {
	short, clean := fillShortName("README.TXT")
	assert.True(t, clean)
	assert.Equal(t, "README  TXT", string(short[:]))
}

func TestFillShortNameLowercaseNotClean(t *testing.T) {
	short, clean := fillShortName("readme.txt")
	assert.False(t, clean)
	assert.Equal(t, "README  TXT", string(short[:]))
}

func TestFillShortNameTruncatesBasename(t *testing.T) {
	_, clean := fillShortName("a_name_longer_than_eight.txt")
	assert.False(t, clean)
}

func TestFillShortNameDropsSpaces(t *testing.T) {
	short, clean := fillShortName("my file.txt")
	assert.False(t, clean)
	assert.Equal(t, "MYFILE  TXT", string(short[:]))
}

func TestProposeUniqueShortNameExhaustion(t *testing.T) {
	short, _ := fillShortName("collider.txt")
	_, err := proposeUniqueShortName(short, func([11]byte) (bool, error) {
		return true, nil // every candidate collides
	})
	require.Error(t, err)
}

func TestProposeUniqueShortNameFindsFirstFree(t *testing.T) {
	short, _ := fillShortName("collider.txt")
	seen := 0
	candidate, err := proposeUniqueShortName(short, func(c [11]byte) (bool, error) {
		seen++
		return seen < 3, nil // first two collide, third is free
	})
	require.NoError(t, err)
	assert.Equal(t, byte('~'), candidate[6])
}

func TestFold8MatchesSelfConsistently(t *testing.T) {
	a, _ := fillShortName("SAME.TXT")
	b, _ := fillShortName("SAME.TXT")
	assert.Equal(t, fold8(a), fold8(b))
}
