package utils

// FileBlockHelper splits a remote file into fixed-size blocks for chunked reads
type FileBlockHelper struct {
	blockSize int
}

// NewFileBlockHelper creates a new FileBlockHelper
func NewFileBlockHelper(blockSize int) *FileBlockHelper {
	if blockSize <= 0 {
		blockSize = 1
	}

	return &FileBlockHelper{
		blockSize: blockSize,
	}
}

// GetBlockSize returns block size
func (helper *FileBlockHelper) GetBlockSize() int {
	return helper.blockSize
}

// GetBlockCount returns the number of blocks a file of the given size occupies
func (helper *FileBlockHelper) GetBlockCount(fileSize int64) int64 {
	if fileSize <= 0 {
		return 0
	}
	return (fileSize + int64(helper.blockSize) - 1) / int64(helper.blockSize)
}

// GetBlockStartOffset returns block start offset
func (helper *FileBlockHelper) GetBlockStartOffset(blockID int64) int64 {
	return blockID * int64(helper.blockSize)
}

// GetBlockRange returns offset and length of the given block, clipped to the file size
func (helper *FileBlockHelper) GetBlockRange(blockID int64, fileSize int64) (int64, int) {
	startOffset := helper.GetBlockStartOffset(blockID)
	if startOffset >= fileSize || blockID < 0 {
		return 0, 0
	}

	endOffset := startOffset + int64(helper.blockSize)
	if endOffset > fileSize {
		endOffset = fileSize
	}

	return startOffset, int(endOffset - startOffset)
}

// GetPercent returns completed percentage in 0-100
func GetPercent(done int64, total int64) int {
	if total <= 0 {
		return 100
	}

	if done <= 0 {
		return 0
	}

	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}
