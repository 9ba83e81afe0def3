package db

// DefaultBlockSize bounds the number of ids bound into one UPDATE statement.
const DefaultBlockSize = 1000

// Blocks splits ids into consecutive slices of at most size elements.
// A size <= 0 uses DefaultBlockSize.
func Blocks[T any](ids []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBlockSize
	}
	if len(ids) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
