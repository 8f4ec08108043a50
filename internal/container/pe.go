package container

import (
	"bytes"
	"encoding/binary"

	"github.com/wasmback/wasmback/internal/diag"
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x1000
	peHeaderOffset   = 0x80
	codeFileOffset   = 0x200

	imageBase32 = 0x400000
	imageBase64 = 0x140000000

	magicPE32  = 0x10b
	magicPE32P = 0x20b

	sizeOfOptionalHeader32 = 224
	sizeOfOptionalHeader64 = 240

	coffCharacteristics    = 0x22       // IMAGE_FILE_EXECUTABLE_IMAGE | IMAGE_FILE_LARGE_ADDRESS_AWARE
	sectionCharacteristics = 0x60000020 // CODE | MEM_EXECUTE | MEM_READ
)

func unsupportedKind(k Kind) error {
	return diag.New(diag.UnsupportedContainer, "", "unsupported container kind %d", int(k))
}

// buildPE assembles a single-section PE image: DOS stub, COFF header,
// PE32/PE32+ optional header, one ".text" section header, then the code
// itself at file offset 0x200, trailing-padded to a 512-byte multiple
// with a bit-exact fixed header layout.
func buildPE(code []byte, opts Options) ([]byte, error) {
	is64 := opts.PointerSize == 8
	imageBase := opts.ImageBaseOverride
	if imageBase == 0 {
		if is64 {
			imageBase = imageBase64
		} else {
			imageBase = imageBase32
		}
	}

	sizeOfOptionalHeader := uint16(sizeOfOptionalHeader32)
	if is64 {
		sizeOfOptionalHeader = sizeOfOptionalHeader64
	}

	sizeOfCode := uint32(len(code))
	sizeOfRawData := alignUp32(sizeOfCode, fileAlignment)
	sizeOfImage := alignUp32(sectionAlignment+sizeOfCode, sectionAlignment)

	var buf bytes.Buffer
	writeDOSHeader(&buf)
	writePESignature(&buf)
	writeCOFFHeader(&buf, opts.Machine, sizeOfOptionalHeader)
	if is64 {
		writeOptionalHeader64(&buf, sizeOfCode, sizeOfImage, imageBase)
	} else {
		writeOptionalHeader32(&buf, sizeOfCode, sizeOfImage, uint32(imageBase))
	}
	writeSectionHeader(&buf, sizeOfCode, sizeOfRawData)

	padTo(&buf, codeFileOffset)
	buf.Write(code)
	padTo(&buf, int(alignUp32(uint32(buf.Len()), fileAlignment)))

	return buf.Bytes(), nil
}

func alignUp32(v, align uint32) uint32 {
	if v%align == 0 {
		return v
	}
	return v + (align - v%align)
}

func padTo(buf *bytes.Buffer, target int) {
	if n := target - buf.Len(); n > 0 {
		buf.Write(make([]byte, n))
	}
}

// writeDOSHeader emits the 64-byte MS-DOS stub header this backend needs
// only for e_lfanew (offset 0x3C): every other DOS-era field is zeroed,
// since no real DOS stub program ever runs.
func writeDOSHeader(buf *bytes.Buffer) {
	buf.WriteByte('M')
	buf.WriteByte('Z')
	buf.Write(make([]byte, 0x3A)) // pad from offset 2 to 0x3C
	binary.Write(buf, binary.LittleEndian, uint32(peHeaderOffset))
	padTo(buf, peHeaderOffset)
}

func writePESignature(buf *bytes.Buffer) {
	buf.WriteByte('P')
	buf.WriteByte('E')
	buf.WriteByte(0)
	buf.WriteByte(0)
}

func writeCOFFHeader(buf *bytes.Buffer, machine uint16, sizeOfOptionalHeader uint16) {
	binary.Write(buf, binary.LittleEndian, machine)
	binary.Write(buf, binary.LittleEndian, uint16(1)) // NumberOfSections
	binary.Write(buf, binary.LittleEndian, uint32(0)) // TimeDateStamp
	binary.Write(buf, binary.LittleEndian, uint32(0)) // PointerToSymbolTable
	binary.Write(buf, binary.LittleEndian, uint32(0)) // NumberOfSymbols
	binary.Write(buf, binary.LittleEndian, sizeOfOptionalHeader)
	binary.Write(buf, binary.LittleEndian, uint16(coffCharacteristics))
}

func writeOptionalHeader32(buf *bytes.Buffer, sizeOfCode, sizeOfImage, imageBase uint32) {
	binary.Write(buf, binary.LittleEndian, uint16(magicPE32))
	buf.WriteByte(0) // MajorLinkerVersion
	buf.WriteByte(0) // MinorLinkerVersion
	binary.Write(buf, binary.LittleEndian, sizeOfCode)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // SizeOfInitializedData
	binary.Write(buf, binary.LittleEndian, uint32(0)) // SizeOfUninitializedData
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment)) // AddressOfEntryPoint
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment)) // BaseOfCode
	binary.Write(buf, binary.LittleEndian, uint32(0))                // BaseOfData (PE32 only)
	binary.Write(buf, binary.LittleEndian, imageBase)
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment))
	binary.Write(buf, binary.LittleEndian, uint32(fileAlignment))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MajorOperatingSystemVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MinorOperatingSystemVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MajorImageVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MinorImageVersion
	binary.Write(buf, binary.LittleEndian, uint16(4)) // MajorSubsystemVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MinorSubsystemVersion
	binary.Write(buf, binary.LittleEndian, uint32(0)) // Win32VersionValue
	binary.Write(buf, binary.LittleEndian, sizeOfImage)
	binary.Write(buf, binary.LittleEndian, uint32(codeFileOffset)) // SizeOfHeaders
	binary.Write(buf, binary.LittleEndian, uint32(0))              // CheckSum
	binary.Write(buf, binary.LittleEndian, uint16(1))              // Subsystem: IMAGE_SUBSYSTEM_NATIVE
	binary.Write(buf, binary.LittleEndian, uint16(0))              // DllCharacteristics
	binary.Write(buf, binary.LittleEndian, uint32(0x100000))       // SizeOfStackReserve
	binary.Write(buf, binary.LittleEndian, uint32(0x1000))         // SizeOfStackCommit
	binary.Write(buf, binary.LittleEndian, uint32(0x100000))       // SizeOfHeapReserve
	binary.Write(buf, binary.LittleEndian, uint32(0x1000))         // SizeOfHeapCommit
	binary.Write(buf, binary.LittleEndian, uint32(0))              // LoaderFlags
	binary.Write(buf, binary.LittleEndian, uint32(16))             // NumberOfRvaAndSizes
	buf.Write(make([]byte, 16*8))                                  // DataDirectory, all zero
}

func writeOptionalHeader64(buf *bytes.Buffer, sizeOfCode, sizeOfImage uint32, imageBase uint64) {
	binary.Write(buf, binary.LittleEndian, uint16(magicPE32P))
	buf.WriteByte(0) // MajorLinkerVersion
	buf.WriteByte(0) // MinorLinkerVersion
	binary.Write(buf, binary.LittleEndian, sizeOfCode)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // SizeOfInitializedData
	binary.Write(buf, binary.LittleEndian, uint32(0)) // SizeOfUninitializedData
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment)) // AddressOfEntryPoint
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment)) // BaseOfCode
	binary.Write(buf, binary.LittleEndian, imageBase)                // ImageBase (8 bytes, no BaseOfData field)
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment))
	binary.Write(buf, binary.LittleEndian, uint32(fileAlignment))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MajorOperatingSystemVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MinorOperatingSystemVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MajorImageVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MinorImageVersion
	binary.Write(buf, binary.LittleEndian, uint16(5)) // MajorSubsystemVersion
	binary.Write(buf, binary.LittleEndian, uint16(0)) // MinorSubsystemVersion
	binary.Write(buf, binary.LittleEndian, uint32(0)) // Win32VersionValue
	binary.Write(buf, binary.LittleEndian, sizeOfImage)
	binary.Write(buf, binary.LittleEndian, uint32(codeFileOffset)) // SizeOfHeaders
	binary.Write(buf, binary.LittleEndian, uint32(0))              // CheckSum
	binary.Write(buf, binary.LittleEndian, uint16(1))              // Subsystem: IMAGE_SUBSYSTEM_NATIVE
	binary.Write(buf, binary.LittleEndian, uint16(0))              // DllCharacteristics
	binary.Write(buf, binary.LittleEndian, uint64(0x100000))       // SizeOfStackReserve
	binary.Write(buf, binary.LittleEndian, uint64(0x1000))         // SizeOfStackCommit
	binary.Write(buf, binary.LittleEndian, uint64(0x100000))       // SizeOfHeapReserve
	binary.Write(buf, binary.LittleEndian, uint64(0x1000))         // SizeOfHeapCommit
	binary.Write(buf, binary.LittleEndian, uint32(0))              // LoaderFlags
	binary.Write(buf, binary.LittleEndian, uint32(16))             // NumberOfRvaAndSizes
	buf.Write(make([]byte, 16*8))                                  // DataDirectory, all zero
}

func writeSectionHeader(buf *bytes.Buffer, sizeOfCode, sizeOfRawData uint32) {
	name := [8]byte{'.', 't', 'e', 'x', 't', 0, 0, 0}
	buf.Write(name[:])
	binary.Write(buf, binary.LittleEndian, sizeOfCode)              // VirtualSize
	binary.Write(buf, binary.LittleEndian, uint32(sectionAlignment)) // VirtualAddress
	binary.Write(buf, binary.LittleEndian, sizeOfRawData)
	binary.Write(buf, binary.LittleEndian, uint32(codeFileOffset)) // PointerToRawData
	binary.Write(buf, binary.LittleEndian, uint32(0))              // PointerToRelocations
	binary.Write(buf, binary.LittleEndian, uint32(0))              // PointerToLinenumbers
	binary.Write(buf, binary.LittleEndian, uint16(0))              // NumberOfRelocations
	binary.Write(buf, binary.LittleEndian, uint16(0))              // NumberOfLinenumbers
	binary.Write(buf, binary.LittleEndian, uint32(sectionCharacteristics))
}
