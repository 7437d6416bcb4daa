// Package fontstream simulates the restartable bulk-read IPC channel the
// loader's streaming Ed25519 signer draws font-glyph bytes from. The real
// channel lives in a separate graphics-server process and is read through
// a bulk-transfer primitive; this package stands in for it with an
// in-memory buffer so the signer can be exercised and tested without that
// process.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package fontstream

// ChunkSize is the size of each bulk-read buffer. The real channel's
// end-of-stream marker is a returned chunk shorter than this, so the last
// chunk of any stream whose length is an exact multiple of ChunkSize must
// be followed by one explicit empty, non-full read.
const ChunkSize = 4096

// Source is the restartable bulk font-read contract the signer drives.
// Next returns the next chunk and whether it was a full ChunkSize-sized
// read; a short (or empty) chunk signals end-of-stream. Restart rewinds to
// the beginning for a second pass.
type Source interface {
	Next() (chunk []byte, full bool)
	Restart()
}

// Buffer is an in-memory Source over a fixed byte slice, used by tests and
// by cmd/rootkeysctl in place of the real font-glyph IPC channel.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer wraps data as a restartable bulk-read source. data is not
// copied; callers must not mutate it while a signing pass is in progress.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Next returns the next ChunkSize-sized slice of data, or a final shorter
// (possibly empty) slice once the buffer is exhausted.
func (b *Buffer) Next() (chunk []byte, full bool) {
	if b.pos >= len(b.data) {
		return nil, false
	}
	end := b.pos + ChunkSize
	if end > len(b.data) {
		end = len(b.data)
	}
	chunk = b.data[b.pos:end]
	full = len(chunk) == ChunkSize
	b.pos = end
	return chunk, full
}

// Restart rewinds the buffer for another pass.
func (b *Buffer) Restart() {
	b.pos = 0
}

// Len returns the total byte length the source yields across a full pass.
func (b *Buffer) Len() int {
	return len(b.data)
}
