package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocks(t *testing.T) {
	tests := []struct {
		name     string
		ids      []int64
		size     int
		expected [][]int64
	}{
		{name: "empty", ids: nil, size: 2, expected: nil},
		{name: "exact", ids: []int64{1, 2, 3, 4}, size: 2, expected: [][]int64{{1, 2}, {3, 4}}},
		{name: "remainder", ids: []int64{1, 2, 3}, size: 2, expected: [][]int64{{1, 2}, {3}}},
		{name: "single block", ids: []int64{7, 8}, size: 10, expected: [][]int64{{7, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Blocks(tt.ids, tt.size))
		})
	}
}

func TestBlocks_DefaultSize(t *testing.T) {
	ids := make([]int64, DefaultBlockSize*2+1)
	blocks := Blocks(ids, 0)
	assert.Len(t, blocks, 3)
	assert.Len(t, blocks[0], DefaultBlockSize)
	assert.Len(t, blocks[2], 1)
}
