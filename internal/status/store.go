// Package status owns the single-slot record of the latest automation run.
// At most one run is in flight at a time; admission and completion go through
// the store so the check-then-set is never racy.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserType selects which login tab the automation drives.
type UserType string

const (
	UserCorporate  UserType = "corporate"
	UserIndividual UserType = "individual"
)

// Kind classifies why a run failed. Empty means no error.
type Kind string

const (
	KindNone             Kind = ""
	KindCredentials      Kind = "username_or_password_error"
	KindCaptchaExhausted Kind = "captcha_exhausted"
	KindForm             Kind = "form_error"
	KindRetryExhausted   Kind = "time_error"
	KindNotEligible      Kind = "invalid_certificate_status"
	KindPrinter          Kind = "printer_error"
	KindSystem           Kind = "system_error"
)

// Outcome is the terminal result of a run.
type Outcome struct {
	Success bool
	Message string
	Kind    Kind
}

// Phase is the projection of the store for status queries.
type Phase int

const (
	PhaseNeverRun Phase = iota
	PhaseProcessing
	PhaseExpired
	PhaseSettled
)

// Snapshot is a point-in-time copy of the latest run state.
type Snapshot struct {
	Phase        Phase
	Success      bool
	Message      string
	Kind         Kind
	UserType     UserType
	DocumentType string
	LastRun      time.Time
}

// Store is the process-wide run status cell.
type Store struct {
	mu sync.Mutex

	processing   bool
	success      bool
	message      string
	kind         Kind
	userType     UserType
	documentType string
	lastRun      time.Time
	runID        string

	sessionTimeout time.Duration
	now            func() time.Time
}

// New builds a store. Runs older than sessionTimeout are reported as expired.
func New(sessionTimeout time.Duration) *Store {
	return &Store{
		sessionTimeout: sessionTimeout,
		now:            time.Now,
	}
}

// SetSelection records the user/document selection ahead of a login request.
func (s *Store) SetSelection(user UserType, documentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userType = user
	s.documentType = documentType
}

// DocumentType returns the currently selected document type, if any.
func (s *Store) DocumentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentType
}

// TryBegin atomically admits a new run. It fails when a run is already
// processing. On admission the previous result is reset and a run ID is
// issued for log correlation.
func (s *Store) TryBegin(user UserType) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return "", false
	}
	s.processing = true
	s.success = false
	s.message = ""
	s.kind = KindNone
	s.userType = user
	s.runID = uuid.NewString()
	return s.runID, true
}

// Complete settles the current run and releases the processing slot.
func (s *Store) Complete(out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.success = out.Success
	s.message = out.Message
	s.kind = out.Kind
	s.lastRun = s.now()
	s.processing = false
}

// Snapshot projects the latest run for status queries.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Success:      s.success,
		Message:      s.message,
		Kind:         s.kind,
		UserType:     s.userType,
		DocumentType: s.documentType,
		LastRun:      s.lastRun,
	}
	switch {
	case s.processing:
		snap.Phase = PhaseProcessing
	case s.lastRun.IsZero():
		snap.Phase = PhaseNeverRun
	case s.now().Sub(s.lastRun) > s.sessionTimeout:
		snap.Phase = PhaseExpired
	default:
		snap.Phase = PhaseSettled
	}
	return snap
}
