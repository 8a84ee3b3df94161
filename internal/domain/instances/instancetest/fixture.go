// Package instancetest builds small DICOM Part 10 files for tests.
package instancetest

import (
	"bytes"
	"encoding/binary"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ctImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
)

// Part10 returns a minimal explicit VR little endian file carrying the given
// modality and study description and no pixel data.
func Part10(modality, description, sopInstanceUID string) []byte {
	var meta bytes.Buffer
	meta.Write(element(0x0002, 0x0001, "OB", []byte{0x00, 0x01}))
	meta.Write(element(0x0002, 0x0002, "UI", []byte(ctImageStorage)))
	meta.Write(element(0x0002, 0x0003, "UI", []byte(sopInstanceUID)))
	meta.Write(element(0x0002, 0x0010, "UI", []byte(explicitVRLittleEndian)))

	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(meta.Len()))

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	out.Write(element(0x0002, 0x0000, "UL", groupLength))
	out.Write(meta.Bytes())

	out.Write(element(0x0008, 0x0016, "UI", []byte(ctImageStorage)))
	out.Write(element(0x0008, 0x0018, "UI", []byte(sopInstanceUID)))
	out.Write(element(0x0008, 0x0060, "CS", []byte(modality)))
	out.Write(element(0x0008, 0x1030, "LO", []byte(description)))
	out.Write(element(0x0010, 0x0010, "PN", []byte("TEST^PATIENT")))
	out.Write(element(0x0018, 0x0015, "CS", []byte("CHEST")))
	return out.Bytes()
}

// Malformed returns bytes that are not a Part 10 container.
func Malformed() []byte {
	return []byte("this is a scanned referral letter, not an image")
}

func element(group, elem uint16, vr string, value []byte) []byte {
	if len(value)%2 == 1 {
		pad := byte(' ')
		if vr == "UI" || vr == "OB" {
			pad = 0x00
		}
		value = append(append([]byte{}, value...), pad)
	}

	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, group)
	binary.Write(&b, binary.LittleEndian, elem)
	b.WriteString(vr)
	switch vr {
	case "OB", "OW", "OF", "SQ", "UN", "UT":
		b.Write([]byte{0, 0})
		binary.Write(&b, binary.LittleEndian, uint32(len(value)))
	default:
		binary.Write(&b, binary.LittleEndian, uint16(len(value)))
	}
	b.Write(value)
	return b.Bytes()
}
