// Package directory resolves the user, patient and template records that
// sessions refer to. It only enriches reads; ingestion never consults it.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/model"
)

// SessionLookup returns a session by id.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*model.Session, error)
}

// Directory is an in-memory, seeded account directory.
type Directory struct {
	mu        sync.RWMutex
	users     []model.User
	patients  []model.Patient
	templates []model.Template
	sessions  SessionLookup
}

func strPtr(s string) *string { return &s }

// New creates a directory seeded with the demo account.
func New(sessions SessionLookup) *Directory {
	return &Directory{
		users: []model.User{
			{ID: "user_123", Email: "user@example.com"},
		},
		patients: []model.Patient{
			{ID: "patient_123", Name: "John Doe", UserID: "user_123", Pronouns: strPtr("he/him")},
		},
		templates: []model.Template{
			{ID: "template_123", Title: "New Patient Visit", Type: "default"},
			{ID: "template_456", Title: "Follow-up Visit", Type: "predefined"},
		},
		sessions: sessions,
	}
}

// UserByEmail finds a user case-insensitively, falling back to the first
// user so a demo client always signs in.
func (d *Directory) UserByEmail(email string) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	if len(d.users) == 0 {
		return model.User{}, model.ErrNotFound
	}
	return d.users[0], nil
}

// Patients lists the patients owned by userID.
func (d *Directory) Patients(userID string) []model.Patient {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []model.Patient
	for _, p := range d.patients {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out
}

// AllPatients returns every patient.
func (d *Directory) AllPatients() []model.Patient {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Patient, len(d.patients))
	copy(out, d.patients)
	return out
}

// Patient returns one patient or model.ErrNotFound.
func (d *Directory) Patient(id string) (model.Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Patient{}, model.ErrNotFound
}

// AddPatient registers a new patient for userID.
func (d *Directory) AddPatient(name, userID string) (model.Patient, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(userID) == "" {
		return model.Patient{}, model.Invalid("patient", "name and userId are required")
	}
	p := model.Patient{ID: "patient_" + uuid.NewString(), Name: name, UserID: userID}
	d.mu.Lock()
	d.patients = append(d.patients, p)
	d.mu.Unlock()
	logrus.WithFields(logrus.Fields{"patient": p.ID, "user": userID}).Info("patient added")
	return p, nil
}

// Templates returns the note templates.
func (d *Directory) Templates() []model.Template {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Template, len(d.templates))
	copy(out, d.templates)
	return out
}

// ResolvePatient returns the patient id a session was recorded for.
func (d *Directory) ResolvePatient(ctx context.Context, sessionID string) (string, error) {
	s, err := d.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.PatientID, nil
}

// ResolveOwner returns the id of the user who owns a session.
func (d *Directory) ResolveOwner(ctx context.Context, sessionID string) (string, error) {
	s, err := d.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}
