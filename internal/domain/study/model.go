package study

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusUploaded        Status = "uploaded"
	StatusAssigned        Status = "assigned"
	StatusInReview        Status = "in_review"
	StatusReportGenerated Status = "report_generated"
	StatusVerified        Status = "verified"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusAssigned, StatusInReview, StatusReportGenerated, StatusVerified:
		return true
	}
	return false
}

type Modality string

const (
	ModalityXRay        Modality = "xray"
	ModalityCT          Modality = "ct"
	ModalityMRI         Modality = "mri"
	ModalityUltrasound  Modality = "ultrasound"
	ModalityPET         Modality = "pet"
	ModalityMammography Modality = "mammography"
)

var Modalities = []Modality{ModalityXRay, ModalityCT, ModalityMRI, ModalityUltrasound, ModalityPET, ModalityMammography}

// dicomModalities maps DICOM (0008,0060) codes onto study modalities.
var dicomModalities = map[string]Modality{
	"CR": ModalityXRay, "DX": ModalityXRay, "RG": ModalityXRay,
	"CT": ModalityCT,
	"MR": ModalityMRI,
	"US": ModalityUltrasound,
	"PT": ModalityPET,
	"MG": ModalityMammography,
}

// ParseModality accepts study modality names, a few spellings of them, and
// DICOM modality codes.
func ParseModality(s string) (Modality, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "x-ray", "x_ray":
		return ModalityXRay, nil
	}
	if m := Modality(v); m.Valid() {
		return m, nil
	}
	if m, ok := dicomModalities[strings.ToUpper(v)]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unknown modality %q", s)
}

func (m Modality) Valid() bool {
	for _, x := range Modalities {
		if m == x {
			return true
		}
	}
	return false
}

type Study struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	StudyCode             string     `db:"study_code" json:"study_code"`
	PatientName           string     `db:"patient_name" json:"patient_name"`
	PatientAge            *int       `db:"patient_age" json:"patient_age,omitempty"`
	PatientGender         *string    `db:"patient_gender" json:"patient_gender,omitempty"`
	Modality              Modality   `db:"modality" json:"modality"`
	StudyType             *string    `db:"study_type" json:"study_type,omitempty"`
	Description           *string    `db:"description" json:"description,omitempty"`
	IsUrgent              bool       `db:"is_urgent" json:"is_urgent"`
	CentreID              uuid.UUID  `db:"centre_id" json:"centre_id"`
	CreatedByID           uuid.UUID  `db:"created_by_id" json:"created_by_id"`
	AssignedRadiologistID *uuid.UUID `db:"assigned_radiologist_id" json:"assigned_radiologist_id,omitempty"`
	StorageLocation       string     `db:"storage_location" json:"storage_location"`
	NumInstances          int        `db:"num_instances" json:"num_instances"`
	Status                Status     `db:"status" json:"status"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Validate checks the patient-facing fields shared by upload and update.
func (s *Study) Validate() error {
	if strings.TrimSpace(s.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if s.PatientAge != nil && (*s.PatientAge < 0 || *s.PatientAge > 150) {
		return fmt.Errorf("patient_age must be between 0 and 150")
	}
	if !s.Modality.Valid() {
		return fmt.Errorf("unknown modality %q", s.Modality)
	}
	return nil
}

// StudyUpdate carries the mutable study fields. The centre, code, storage
// location and status are not among them.
type StudyUpdate struct {
	PatientName   *string `json:"patient_name"`
	PatientAge    *int    `json:"patient_age"`
	PatientGender *string `json:"patient_gender"`
	StudyType     *string `json:"study_type"`
	Description   *string `json:"description"`
	IsUrgent      *bool   `json:"is_urgent"`
}

func (s *Study) Apply(u StudyUpdate) {
	if u.PatientName != nil {
		s.PatientName = *u.PatientName
	}
	if u.PatientAge != nil {
		s.PatientAge = u.PatientAge
	}
	if u.PatientGender != nil {
		s.PatientGender = u.PatientGender
	}
	if u.StudyType != nil {
		s.StudyType = u.StudyType
	}
	if u.Description != nil {
		s.Description = u.Description
	}
	if u.IsUrgent != nil {
		s.IsUrgent = *u.IsUrgent
	}
}

// Upload describes a new study. CentreID is only read for actors without a
// centre of their own.
type Upload struct {
	PatientName   string
	PatientAge    *int
	PatientGender *string
	Modality      Modality
	StudyType     *string
	Description   *string
	IsUrgent      bool
	CentreID      *uuid.UUID
	Blobs         [][]byte
}

type StudyFilter struct {
	CentreID              *uuid.UUID
	Status                *Status
	Modality              *Modality
	Urgent                *bool
	AssignedRadiologistID *uuid.UUID
}

const AutomatedReportType = "AI Preliminary Report"

type Report struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	StudyID       uuid.UUID  `db:"study_id" json:"study_id"`
	ReportType    string     `db:"report_type" json:"report_type"`
	Findings      *string    `db:"findings" json:"findings,omitempty"`
	Impression    *string    `db:"impression" json:"impression,omitempty"`
	IsAIGenerated bool       `db:"is_ai_generated" json:"is_ai_generated"`
	IsVerified    bool       `db:"is_verified" json:"is_verified"`
	CreatedByID   *uuid.UUID `db:"created_by_id" json:"created_by_id,omitempty"`
	VerifiedByID  *uuid.UUID `db:"verified_by_id" json:"verified_by_id,omitempty"`
	VerifiedAt    *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// PendingAutomated reports whether r is the automated report enrichment may
// still overwrite.
func (r *Report) PendingAutomated() bool {
	return r.IsAIGenerated && !r.IsVerified
}

type ReportUpdate struct {
	ReportType *string `json:"report_type"`
	Findings   *string `json:"findings"`
	Impression *string `json:"impression"`
}

func (r *Report) Apply(u ReportUpdate) {
	if u.ReportType != nil {
		r.ReportType = *u.ReportType
	}
	if u.Findings != nil {
		r.Findings = u.Findings
	}
	if u.Impression != nil {
		r.Impression = u.Impression
	}
}
