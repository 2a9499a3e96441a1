package editor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/avarra/reelforge/internal/domain"
)

func chunkList(n int) []types.ChunkBlob {
	out := make([]types.ChunkBlob, n)
	for i := range out {
		out[i] = types.ChunkBlob{
			Index: i,
			URL:   urlFor(i),
			Key:   keyFor(i),
		}
	}
	return out
}

func urlFor(i int) string { return "https://store/chunk_" + string(rune('0'+i)) + ".mp4" }
func keyFor(i int) string { return "owner/videos/v/chunk_" + string(rune('0'+i)) + ".mp4" }

func TestReorderRoundTrip(t *testing.T) {
	chunks := chunkList(4)
	perm := []int{2, 0, 3, 1}

	permuted, err := Reorder(chunks, perm)
	require.NoError(t, err)
	assert.Equal(t, chunks[2], permuted[0])
	assert.Equal(t, chunks[1], permuted[3])

	// Applying the inverse permutation restores the original order.
	inverse := make([]int, len(perm))
	for dst, src := range perm {
		inverse[src] = dst
	}
	restored, err := Reorder(permuted, inverse)
	require.NoError(t, err)
	assert.Equal(t, chunks, restored)
}

func TestReorderRejectsBadPermutations(t *testing.T) {
	chunks := chunkList(3)

	_, err := Reorder(chunks, []int{0, 1})
	assert.Error(t, err, "length mismatch")

	_, err = Reorder(chunks, []int{0, 1, 1})
	assert.Error(t, err, "repeated index")

	_, err = Reorder(chunks, []int{0, 1, 5})
	assert.Error(t, err, "out of range")
}

func TestDeleteHighestFirst(t *testing.T) {
	chunks := chunkList(5)

	// Indices given in ascending order must still remove the intended
	// chunks (processed highest-first internally).
	out, err := Delete(chunks, []int{1, 3})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, chunks[0], out[0])
	assert.Equal(t, chunks[2], out[1])
	assert.Equal(t, chunks[4], out[2])
}

func TestDeleteDedupesAndValidates(t *testing.T) {
	chunks := chunkList(3)

	out, err := Delete(chunks, []int{2, 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = Delete(chunks, []int{7})
	assert.Error(t, err)

	_, err = Delete(chunks, nil)
	assert.Error(t, err)
}

func TestSplitUndoRoundTrip(t *testing.T) {
	chunks := chunkList(3)
	original := chunks[1]

	part1 := original
	part1.URL = "https://store/chunk_01_part1.mp4"
	part1.Key = "owner/videos/v/chunk_01_part1.mp4"
	part1.Duration = 2.5
	part2 := original
	part2.URL = "https://store/chunk_01_part2.mp4"
	part2.Key = "owner/videos/v/chunk_01_part2.mp4"
	part2.Duration = 2.5

	split := InsertSplit(chunks, 1, part1, part2)
	require.Len(t, split, 4)
	assert.Equal(t, part1, split[1])
	assert.Equal(t, part2, split[2])
	assert.Equal(t, chunks[2], split[3])

	record := types.SplitRecord{
		OriginalIndex: 1,
		SplitTime:     2.5,
		Part1Blob:     part1.URL,
		Part1Key:      part1.Key,
		Part2Blob:     part2.URL,
		Part2Key:      part2.Key,
		Part1Index:    1,
		Part2Index:    2,
		Original:      original,
		CreatedAt:     time.Now(),
	}

	restored, err := UndoSplit(split, record)
	require.NoError(t, err)
	assert.Equal(t, chunks, restored)
}

func TestUndoSplitRefusesMovedParts(t *testing.T) {
	chunks := chunkList(3)
	record := types.SplitRecord{
		Part1Index: 0,
		Part2Index: 1,
		Part1Key:   "not-the-part",
		Part2Key:   chunks[1].Key,
		Original:   chunks[0],
	}
	_, err := UndoSplit(chunks, record)
	assert.Error(t, err)
}

func TestResolveVersion(t *testing.T) {
	book := types.ChunkVersions{
		Original: types.ChunkVersionRef{URL: "orig-url", Key: "orig-key"},
		Replacements: map[string]types.ChunkVersionRef{
			"replacement_1": {URL: "r1-url", Key: "r1-key"},
		},
		CurrentSelected: "replacement_1",
	}

	ref, err := ResolveVersion(book, "original")
	require.NoError(t, err)
	assert.Equal(t, "orig-url", ref.URL)

	ref, err = ResolveVersion(book, "replacement_1")
	require.NoError(t, err)
	assert.Equal(t, "r1-url", ref.URL)

	ref, err = ResolveVersion(book, "current")
	require.NoError(t, err)
	assert.Equal(t, "r1-url", ref.URL)

	_, err = ResolveVersion(book, "replacement_9")
	assert.Error(t, err)
}

func TestResolveSplitOffset(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	n := func(v int) *int { return &v }

	got, err := resolveSplitOffset(Action{SplitTime: f(2.5)}, 5.0, 24)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	got, err = resolveSplitOffset(Action{SplitPercentage: f(50)}, 5.0, 24)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	got, err = resolveSplitOffset(Action{SplitFrame: n(60)}, 5.0, 24)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	// Preference order: split_time wins over the others.
	got, err = resolveSplitOffset(Action{SplitTime: f(1), SplitPercentage: f(90)}, 5.0, 24)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	_, err = resolveSplitOffset(Action{}, 5.0, 24)
	assert.Error(t, err, "no offset given")

	_, err = resolveSplitOffset(Action{SplitTime: f(5.0)}, 5.0, 24)
	assert.Error(t, err, "offset at end of chunk")

	_, err = resolveSplitOffset(Action{SplitTime: f(0)}, 5.0, 24)
	assert.Error(t, err, "offset at start of chunk")
}
