package chunkuploader

// NextChunk returns the chunk starting at nextByte. It is pure: callers advance
// nextByte by the returned length and nextID by one until nextByte reaches totalLength.
func NextChunk(totalLength, nextID, nextByte, chunkSize int64) Chunk {
	length := totalLength - nextByte
	if chunkSize < length {
		length = chunkSize
	}
	return Chunk{
		ID:     nextID,
		Start:  nextByte,
		Length: length,
	}
}

// Plan drives NextChunk over [startByte, totalLength) with a fixed chunk size.
// It returns no chunks for an empty range.
func Plan(totalLength, startByte, firstID, chunkSize int64) []Chunk {
	if chunkSize <= 0 {
		return nil
	}

	var chunks []Chunk
	nextID := firstID
	for nextByte := startByte; nextByte < totalLength; {
		chunk := NextChunk(totalLength, nextID, nextByte, chunkSize)
		chunks = append(chunks, chunk)
		nextByte += chunk.Length
		nextID++
	}
	return chunks
}
