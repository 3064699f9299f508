// Package view materializes read responses. Every optional field that a
// client expects is filled here from one canonical default record, so the
// state machine and storage never carry presentation values.
package view

import (
	"strconv"
	"time"

	"github.com/rcliao/consult-recorder/internal/model"
)

// Canonical defaults for fields a record may not carry.
const (
	DefaultTitle             = "Consultation"
	DefaultSummary           = "Patient consultation summary"
	DefaultPatientName       = "Unknown"
	DefaultPronouns          = "he/him"
	DefaultEmail             = "john@example.com"
	DefaultBackground        = "Patient background information"
	DefaultMedicalHistory    = "Previous medical conditions"
	DefaultFamilyHistory     = "Family medical history"
	DefaultSocialHistory     = "Social history information"
	DefaultPreviousTreatment = "Previous treatments"
)

// Audio is the best currently reconstructible audio reference of a session.
type Audio struct {
	// URL streams the contiguous prefix of stored chunks; empty with no chunks.
	URL string
	// Chunks are per-chunk read destinations in ascending index order.
	Chunks []string
}

// PatientProfile holds the patient fields shared by list and detail views.
type PatientProfile struct {
	Email             string `json:"email"`
	Background        string `json:"background"`
	MedicalHistory    string `json:"medical_history"`
	FamilyHistory     string `json:"family_history"`
	SocialHistory     string `json:"social_history"`
	PreviousTreatment string `json:"previous_treatment"`
}

func defaultProfile() PatientProfile {
	return PatientProfile{
		Email:             DefaultEmail,
		Background:        DefaultBackground,
		MedicalHistory:    DefaultMedicalHistory,
		FamilyHistory:     DefaultFamilyHistory,
		SocialHistory:     DefaultSocialHistory,
		PreviousTreatment: DefaultPreviousTreatment,
	}
}

// SessionItem is one session as listed to clients.
type SessionItem struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	PatientID        string   `json:"patient_id"`
	Title            string   `json:"session_title"`
	Summary          string   `json:"session_summary"`
	Status           string   `json:"status"`
	TranscriptStatus string   `json:"transcript_status"`
	Transcript       string   `json:"transcript"`
	FailureReason    string   `json:"failure_reason,omitempty"`
	Date             string   `json:"date"`
	StartTime        string   `json:"start_time"`
	EndTime          *string  `json:"end_time"`
	Duration         string   `json:"duration"`
	PatientName      string   `json:"patient_name"`
	Pronouns         string   `json:"pronouns"`
	PatientPronouns  string   `json:"patient_pronouns"`
	TemplateID       string   `json:"template_id,omitempty"`
	ClinicalNotes    []string `json:"clinical_notes"`
	AudioURL         string   `json:"audio_url"`
	AudioChunks      []string `json:"audio_chunks"`
	PatientProfile
}

// Session materializes s. patient may be nil when the directory has no record.
func Session(s model.Session, patient *model.Patient, audio Audio) SessionItem {
	start := s.CreatedAt
	if s.StartTime != nil {
		start = *s.StartTime
	}
	item := SessionItem{
		ID:               s.ID,
		UserID:           s.UserID,
		PatientID:        s.PatientID,
		Title:            orDefault(s.Title, DefaultTitle),
		Summary:          orDefault(s.Summary, DefaultSummary),
		Status:           string(s.Status),
		TranscriptStatus: string(s.TranscriptStatus),
		Transcript:       s.Transcript,
		FailureReason:    s.FailureReason,
		Date:             start.UTC().Format("2006-01-02"),
		StartTime:        start.UTC().Format(time.RFC3339),
		Duration:         duration(start, s.EndTime),
		PatientName:      orDefault(s.PatientName, DefaultPatientName),
		Pronouns:         DefaultPronouns,
		TemplateID:       s.TemplateID,
		ClinicalNotes:    []string{},
		AudioURL:         audio.URL,
		AudioChunks:      audio.Chunks,
		PatientProfile:   defaultProfile(),
	}
	if item.TranscriptStatus == "" {
		item.TranscriptStatus = string(model.TranscriptPending)
	}
	if item.AudioChunks == nil {
		item.AudioChunks = []string{}
	}
	if s.EndTime != nil {
		end := s.EndTime.UTC().Format(time.RFC3339)
		item.EndTime = &end
	}
	if patient != nil {
		item.PatientName = orDefault(patient.Name, item.PatientName)
		item.Pronouns = pronouns(patient)
	}
	item.PatientPronouns = item.Pronouns
	return item
}

// PatientSessionItem is the compact session form listed under a patient.
type PatientSessionItem struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Title     string `json:"session_title"`
	Summary   string `json:"session_summary"`
	StartTime string `json:"start_time"`
	Status    string `json:"status"`
	AudioURL  string `json:"audio_url"`
}

// PatientSession materializes the compact form of s.
func PatientSession(s model.Session, audio Audio) PatientSessionItem {
	full := Session(s, nil, audio)
	return PatientSessionItem{
		ID:        full.ID,
		Date:      full.Date,
		Title:     full.Title,
		Summary:   full.Summary,
		StartTime: full.StartTime,
		Status:    full.Status,
		AudioURL:  full.AudioURL,
	}
}

// PatientListItem is one patient in a user's patient list.
type PatientListItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Pronouns *string `json:"pronouns"`
}

// PatientList materializes a patient list. Missing pronouns stay null.
func PatientList(patients []model.Patient) []PatientListItem {
	out := make([]PatientListItem, 0, len(patients))
	for _, p := range patients {
		out = append(out, PatientListItem{ID: p.ID, Name: p.Name, Pronouns: p.Pronouns})
	}
	return out
}

// PatientRef is the per-patient entry of a session list's patient map.
type PatientRef struct {
	Name     string `json:"name"`
	Pronouns string `json:"pronouns"`
}

// PatientMap indexes patients by id.
func PatientMap(patients []model.Patient) map[string]PatientRef {
	out := make(map[string]PatientRef, len(patients))
	for i := range patients {
		out[patients[i].ID] = PatientRef{Name: patients[i].Name, Pronouns: pronouns(&patients[i])}
	}
	return out
}

// PatientDetails is the full patient record.
type PatientDetails struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Pronouns string `json:"pronouns"`
	PatientProfile
}

// Patient materializes the detail view of p.
func Patient(p model.Patient) PatientDetails {
	return PatientDetails{
		ID:             p.ID,
		Name:           orDefault(p.Name, DefaultPatientName),
		Pronouns:       pronouns(&p),
		PatientProfile: defaultProfile(),
	}
}

func pronouns(p *model.Patient) string {
	if p.Pronouns == nil || *p.Pronouns == "" {
		return DefaultPronouns
	}
	return *p.Pronouns
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func duration(start time.Time, end *time.Time) string {
	if end == nil || end.Before(start) {
		return ""
	}
	mins := int(end.Sub(start).Round(time.Minute) / time.Minute)
	if mins == 1 {
		return "1 minute"
	}
	return strconv.Itoa(mins) + " minutes"
}
