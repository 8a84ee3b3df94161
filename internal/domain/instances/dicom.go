package instances

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	preambleLength = 128
	magicWord      = "DICM"
)

var ErrNotPart10 = errors.New("not a DICOM Part 10 file")

// HasPart10Header reports whether blob starts with the 128 byte preamble and
// the DICM prefix.
func HasPart10Header(blob []byte) bool {
	return len(blob) >= preambleLength+len(magicWord) &&
		string(blob[preambleLength:preambleLength+len(magicWord)]) == magicWord
}

// ValidateDICOM accepts blobs that carry a Part 10 header and parse as a
// dataset. Pixel data is not decoded.
func ValidateDICOM(blob []byte) error {
	_, err := parse(blob)
	return err
}

func parse(blob []byte) (dicom.Dataset, error) {
	if !HasPart10Header(blob) {
		return dicom.Dataset{}, ErrNotPart10
	}
	ds, err := dicom.Parse(bytes.NewReader(blob), int64(len(blob)), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("parse dicom: %w", err)
	}
	return ds, nil
}

// Metadata is the handful of header attributes the workflow reads.
type Metadata struct {
	Modality          string `json:"modality,omitempty"`
	StudyDescription  string `json:"study_description,omitempty"`
	SeriesDescription string `json:"series_description,omitempty"`
	BodyPartExamined  string `json:"body_part_examined,omitempty"`
	SOPInstanceUID    string `json:"sop_instance_uid,omitempty"`
}

// ReadMetadata parses blob and extracts Metadata. Missing attributes are
// left empty.
func ReadMetadata(blob []byte) (Metadata, error) {
	ds, err := parse(blob)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Modality:          firstString(ds, tag.Modality),
		StudyDescription:  firstString(ds, tag.StudyDescription),
		SeriesDescription: firstString(ds, tag.SeriesDescription),
		BodyPartExamined:  firstString(ds, tag.BodyPartExamined),
		SOPInstanceUID:    firstString(ds, tag.SOPInstanceUID),
	}, nil
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return ""
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
