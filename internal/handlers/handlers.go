// Package handlers holds the demo business endpoints the
// request-shaping layer fronts. They keep their state in memory; real
// persistence is an external concern of the services behind the
// gateway.
package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"clinic-gateway/internal/identity"
)

// Appointment is a scheduled clinic visit.
type Appointment struct {
	ID        int       `json:"id"`
	ClinicID  int       `json:"clinic_id"`
	PatientID string    `json:"patient_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Clinic is a bookable location.
type Clinic struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

// Handlers serves the demo API.
type Handlers struct {
	mu           sync.RWMutex
	appointments []Appointment
	clinics      []Clinic
	nextID       int
}

// New creates the handler set with a couple of seed clinics.
func New() *Handlers {
	return &Handlers{
		clinics: []Clinic{
			{ID: 1, Name: "Downtown Medical", City: "Springfield"},
			{ID: 2, Name: "Riverside Clinic", City: "Shelbyville"},
		},
		nextID: 1,
	}
}

// ListAppointments handles GET /api/appointments.
func (h *Handlers) ListAppointments(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	items := make([]Appointment, len(h.appointments))
	copy(items, h.appointments)
	writeJSON(w, http.StatusOK, items)
}

// CreateAppointment handles POST /api/appointments.
func (h *Handlers) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClinicID int       `json:"clinic_id"`
		Reason   string    `json:"reason"`
		At       time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patientID := "anonymous"
	if id, ok := identity.FromRequest(r); ok {
		patientID = id.ID
	}

	h.mu.Lock()
	appt := Appointment{
		ID:        h.nextID,
		ClinicID:  in.ClinicID,
		PatientID: patientID,
		Reason:    in.Reason,
		At:        in.At,
	}
	h.nextID++
	h.appointments = append(h.appointments, appt)
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, appt)
}

// ListClinics handles GET /api/clinics.
func (h *Handlers) ListClinics(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	items := make([]Clinic, len(h.clinics))
	copy(items, h.clinics)
	writeJSON(w, http.StatusOK, items)
}

// Me handles GET /api/users/me, an identity-bound endpoint.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": msg,
	})
}
