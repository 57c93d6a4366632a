package chunkuploader

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCoverage(t *testing.T, chunks []Chunk, from, to int64) {
	t.Helper()

	require.NotEmpty(t, chunks)
	assert.Equal(t, from, chunks[0].Start)
	assert.Equal(t, to, chunks[len(chunks)-1].End())

	var sum int64
	for i, chunk := range chunks {
		require.Greater(t, chunk.Length, int64(0), "chunk %d", i)
		sum += chunk.Length
		if i > 0 {
			require.Equal(t, chunks[i-1].End(), chunk.Start, "gap or overlap before chunk %d", i)
			require.Greater(t, chunk.ID, chunks[i-1].ID)
		}
	}
	assert.Equal(t, to-from, sum)
}

func TestNextChunk(t *testing.T) {
	tests := []struct {
		name                                     string
		totalLength, nextID, nextByte, chunkSize int64
		want                                     Chunk
	}{
		{name: "full chunk", totalLength: 100, nextID: 1, nextByte: 0, chunkSize: 30, want: Chunk{ID: 1, Start: 0, Length: 30}},
		{name: "last partial chunk", totalLength: 100, nextID: 4, nextByte: 90, chunkSize: 30, want: Chunk{ID: 4, Start: 90, Length: 10}},
		{name: "chunk larger than file", totalLength: 5, nextID: 7, nextByte: 0, chunkSize: 30, want: Chunk{ID: 7, Start: 0, Length: 5}},
		{name: "id independent of offset", totalLength: 100, nextID: 42, nextByte: 10, chunkSize: 10, want: Chunk{ID: 42, Start: 10, Length: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextChunk(tt.totalLength, tt.nextID, tt.nextByte, tt.chunkSize))
		})
	}
}

func TestPlan_CoversFromZero(t *testing.T) {
	for _, total := range []int64{1, 2, 7, 100, 1024, 10*MiB + 3} {
		for _, size := range []int64{1, 3, 64, 1024, MiB} {
			if total/size > 20000 {
				continue
			}
			t.Run(fmt.Sprintf("total=%d size=%d", total, size), func(t *testing.T) {
				chunks := Plan(total, 0, 1, size)
				requireCoverage(t, chunks, 0, total)
				assert.Equal(t, int64(1), chunks[0].ID)
			})
		}
	}
}

func TestPlan_ResumeFromOffset(t *testing.T) {
	const total = 1000
	const size = 64
	for offset := int64(0); offset < total; offset += 37 {
		t.Run(fmt.Sprintf("offset=%d", offset), func(t *testing.T) {
			resumed := Plan(total, offset, 11, size)
			requireCoverage(t, resumed, offset, total)

			shifted := Plan(total-offset, 0, 11, size)
			require.Len(t, resumed, len(shifted))
			for i := range resumed {
				assert.Equal(t, shifted[i].Start+offset, resumed[i].Start)
				assert.Equal(t, shifted[i].Length, resumed[i].Length)
				assert.Equal(t, shifted[i].ID, resumed[i].ID)
			}
		})
	}
}

func TestPlan_Empty(t *testing.T) {
	assert.Empty(t, Plan(0, 0, 1, 10))
	assert.Empty(t, Plan(10, 10, 1, 10))
	assert.Empty(t, Plan(10, 0, 1, 0))
}

func TestNextChunk_ChangingChunkSize(t *testing.T) {
	const total = 10*MiB + 17
	sizes := []int64{MiB, 10 * MiB, MiB}

	var chunks []Chunk
	nextID, nextByte := int64(1), int64(0)
	for i := 0; nextByte < total; i++ {
		chunk := NextChunk(total, nextID, nextByte, sizes[i%len(sizes)])
		chunks = append(chunks, chunk)
		nextByte += chunk.Length
		nextID++
	}

	requireCoverage(t, chunks, 0, total)
}
