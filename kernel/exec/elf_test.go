package exec

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// buildTestImage assembles a minimal ELF64 image: a header with a single
// program-header table entry immediately following it, plus segmentBytes
// placed at segment.Offset.
func buildTestImage(entry uint64, segment programHeader, segmentBytes []byte) []byte {
	phOff := uint64(unsafe.Sizeof(elfHeader{}))
	h := elfHeader{
		Ident:     [16]byte{elfMagic0, elfMagic1, elfMagic2, elfMagic3, elfClass64, elfDataLSB},
		Type:      elfTypeExec,
		Machine:   elfMachineX86_64,
		Entry:     entry,
		PhOff:     phOff,
		PhEntSize: uint16(unsafe.Sizeof(programHeader{})),
		PhNum:     1,
	}

	size := phOff + uint64(unsafe.Sizeof(programHeader{}))
	if need := segment.Offset + uint64(len(segmentBytes)); need > size {
		size = need
	}

	buf := make([]byte, size)
	*(*elfHeader)(unsafe.Pointer(&buf[0])) = h
	*(*programHeader)(unsafe.Pointer(&buf[phOff])) = segment
	copy(buf[segment.Offset:], segmentBytes)
	return buf
}

func TestParseHeaderAcceptsValidImage(t *testing.T) {
	image := buildTestImage(0x400000, programHeader{Type: ptLoad}, nil)

	h, err := parseHeader(image)
	require.Nil(t, err)
	require.Equal(t, uint64(0x400000), h.Entry)
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	image := buildTestImage(0x400000, programHeader{Type: ptLoad}, nil)
	image[0] = 0x00

	_, err := parseHeader(image)
	require.Equal(t, errInvalidFormat, err)
}

func TestParseHeaderRejectsWrongMachine(t *testing.T) {
	image := buildTestImage(0x400000, programHeader{Type: ptLoad}, nil)
	*(*uint16)(unsafe.Pointer(&image[18])) = 0x28 // ARM, not x86-64

	_, err := parseHeader(image)
	require.Equal(t, errInvalidFormat, err)
}

func TestParseHeaderRejectsTruncatedImage(t *testing.T) {
	_, err := parseHeader(make([]byte, 4))
	require.Equal(t, errInvalidFormat, err)
}

func TestProgramHeadersRejectsOutOfBoundsTable(t *testing.T) {
	image := buildTestImage(0x400000, programHeader{Type: ptLoad}, nil)
	h, err := parseHeader(image)
	require.Nil(t, err)

	h.PhNum = 0xFFFF

	_, err = programHeaders(image, h)
	require.Equal(t, errInvalidFormat, err)
}

func TestProgramHeadersReturnsEntry(t *testing.T) {
	seg := programHeader{Type: ptLoad, Vaddr: 0x400000, Offset: 0x78, FileSz: 0x200, MemSz: 0x200}
	image := buildTestImage(0x400000, seg, make([]byte, 0x200))

	h, err := parseHeader(image)
	require.Nil(t, err)

	phdrs, err := programHeaders(image, h)
	require.Nil(t, err)
	require.Len(t, phdrs, 1)
	require.Equal(t, seg.Vaddr, phdrs[0].Vaddr)
	require.Equal(t, seg.FileSz, phdrs[0].FileSz)
}
