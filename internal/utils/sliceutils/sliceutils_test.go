package sliceutils_test

import (
	"strconv"
	"testing"

	"github.com/aviator-co/bifrost/internal/utils/sliceutils"
	"github.com/stretchr/testify/assert"
)

func TestDeleteElement(t *testing.T) {
	assert.Equal(t, []string{"a", "c", "b"}, sliceutils.DeleteElement([]string{"a", "b", "c", "b"}, "b"))
	assert.Equal(t, []string{"a"}, sliceutils.DeleteElement([]string{"a"}, "z"))
	assert.Empty(t, sliceutils.DeleteElement([]string{}, "z"))
}

func TestMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, sliceutils.Map([]int{1, 2}, strconv.Itoa))
	assert.Empty(t, sliceutils.Map(nil, strconv.Itoa))
}
