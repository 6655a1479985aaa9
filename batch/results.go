package batch

import (
	"fmt"
	"time"
)

// Status is the terminal outcome of one group.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// GroupResult is the immutable audit record for one processed group.
// Exactly one is appended per attempted group.
type GroupResult struct {
	Timestamp   time.Time
	Status      Status
	TxID        string
	Error       string
	Accounts    []string
	Authorities string
}

// ResultSink persists group results for offline inspection. The pipeline
// never reads them back.
type ResultSink interface {
	Write(rows []GroupResult) (location string, err error)
}

// Summary aggregates a finished run.
type Summary struct {
	Groups            int
	GroupsSucceeded   int
	GroupsFailed      int
	AccountsTotal     int
	AccountsSucceeded int
	AccountsFailed    int
	ReportLocation    string
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d/%d groups succeeded (%d/%d accounts)",
		s.GroupsSucceeded, s.Groups, s.AccountsSucceeded, s.AccountsTotal)
}

// EmptyInputError means there was nothing to do: the directory returned
// no accounts, or none survived filtering. Fatal; no groups are
// attempted.
type EmptyInputError struct {
	Authority string
	Filtered  bool
}

func (e *EmptyInputError) Error() string {
	if e.Filtered {
		return fmt.Sprintf("no valid stake accounts for authority %s after filtering", e.Authority)
	}
	return fmt.Sprintf("no stake accounts found for authority %s", e.Authority)
}
