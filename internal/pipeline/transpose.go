// File: internal/pipeline/transpose.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch transposition: item-major [rows, cols] to element-major
// [cols, rows], so each feature dimension is contiguous across the
// minibatch. Endian- and element-agnostic: moves elemSize-byte units.

package pipeline

// Transpose writes the transpose of src into dst. src holds rows
// records of cols elements, each elemSize bytes; element (i, j) lands
// at dst offset (j*rows+i)*elemSize. dst must hold at least
// rows*cols*elemSize bytes and must not alias src.
func Transpose(dst, src []byte, rows, cols, elemSize int) {
	if elemSize == 1 {
		for i := 0; i < rows; i++ {
			row := src[i*cols : (i+1)*cols]
			for j, v := range row {
				dst[j*rows+i] = v
			}
		}
		return
	}
	for i := 0; i < rows; i++ {
		srcOff := i * cols * elemSize
		for j := 0; j < cols; j++ {
			dstOff := (j*rows + i) * elemSize
			copy(dst[dstOff:dstOff+elemSize], src[srcOff:srcOff+elemSize])
			srcOff += elemSize
		}
	}
}
