package rams

import "github.com/activevideo/rfbtv-client/internal/bufpool"

// defaultChunkSize is bufpool's 4096-byte size class; one chunk holds
// several 188-byte TS packets.
const defaultChunkSize = 4096

// PoolChunkAllocator is the built-in ChunkAllocator, backed by
// internal/bufpool so unit storage reuses pooled buffers instead of
// allocating fresh slices per chunk.
type PoolChunkAllocator struct {
	pool      *bufpool.Pool
	chunkSize int
}

// NewPoolChunkAllocator returns an allocator handing out chunkSize-byte
// buffers from a dedicated bufpool.Pool. A chunkSize of 0 selects
// defaultChunkSize.
func NewPoolChunkAllocator(chunkSize int) *PoolChunkAllocator {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &PoolChunkAllocator{pool: bufpool.New(), chunkSize: chunkSize}
}

// ChunkSize returns the fixed chunk size this allocator hands out.
func (a *PoolChunkAllocator) ChunkSize() int { return a.chunkSize }

// AllocChunk returns a zeroed chunkSize-byte buffer.
func (a *PoolChunkAllocator) AllocChunk() []byte {
	return a.pool.Get(a.chunkSize)
}

// FreeChunk returns chunk to the pool.
func (a *PoolChunkAllocator) FreeChunk(chunk []byte) {
	a.pool.Put(chunk)
}
