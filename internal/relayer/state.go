// Package relayer observes Deposited events on the collateral chain and
// credits the engine's internal ledger exactly once per event, surviving
// crashes and re-polling.
package relayer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/darkbet/darkbet/internal/domain"
)

// maxCreditedIDs caps the persisted dedup set; only the most recent entries
// are kept. The scan cursor guarantees older events are never re-fetched.
const maxCreditedIDs = 1000

// PendingCredit is a deposit whose credit call has not yet succeeded. It
// stays queued across restarts until the credit lands, which is what makes
// a failed credit retryable instead of silently dropped.
type PendingCredit struct {
	Event     domain.DepositEvent `json:"event"`
	Attempts  int                 `json:"attempts"`
	LastError string              `json:"last_error,omitempty"`
}

// State is the relayer's durable record. The scan cursor and the credited
// set advance independently: LastScannedBlock tracks which blocks have been
// fetched, CreditedEventIDs tracks which deposits have actually been
// credited, and Pending holds fetched-but-uncredited deposits in between.
type State struct {
	LastScannedBlock uint64          `json:"last_scanned_block"`
	CreditedEventIDs []string        `json:"credited_event_ids"`
	Pending          []PendingCredit `json:"pending"`
}

// IsCredited reports whether the event id has already been credited.
func (s *State) IsCredited(id string) bool {
	for _, seen := range s.CreditedEventIDs {
		if seen == id {
			return true
		}
	}
	return false
}

// IsPending reports whether the event id is already queued for crediting.
func (s *State) IsPending(id string) bool {
	for _, p := range s.Pending {
		if p.Event.ID == id {
			return true
		}
	}
	return false
}

// MarkCredited records the event id in the dedup set, trimming to the cap.
func (s *State) MarkCredited(id string) {
	s.CreditedEventIDs = append(s.CreditedEventIDs, id)
	if len(s.CreditedEventIDs) > maxCreditedIDs {
		s.CreditedEventIDs = s.CreditedEventIDs[len(s.CreditedEventIDs)-maxCreditedIDs:]
	}
}

// StateFile persists State as JSON with atomic replace semantics.
type StateFile struct {
	path string
}

// NewStateFile creates a StateFile at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Load reads the persisted state. A missing file yields an empty state so a
// fresh relayer starts cleanly.
func (f *StateFile) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relayer: reading state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("relayer: parsing state file: %w", err)
	}
	return &st, nil
}

// Save writes the state to a temporary file and renames it into place, so a
// crash mid-write never leaves a truncated state file behind.
func (f *StateFile) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("relayer: encoding state: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(f.path), "."+filepath.Base(f.path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("relayer: writing state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("relayer: replacing state file: %w", err)
	}
	return nil
}
