package domain

import (
	"fmt"
	"time"
)

// DayFormat is the canonical on-disk key for a processing day.
const DayFormat = "2006-01-02"

// Record is a single harvested paper as produced by the upstream harvester.
// Field names mirror the harvester's JSONL so day files round-trip unchanged.
type Record struct {
	ID         string      `json:"id"`
	Title      string      `json:"title,omitempty"`
	Authors    []string    `json:"authors,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	URL        string      `json:"url,omitempty"`
	Categories []string    `json:"categories,omitempty"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// Relevance is the closed classification set produced by enrichment.
type Relevance string

const (
	RelevanceHigh       Relevance = "High"
	RelevanceMedium     Relevance = "Medium"
	RelevanceLow        Relevance = "Low"
	RelevanceIrrelevant Relevance = "Irrelevant"

	// RelevanceUnavailable marks a record the remote job returned no result
	// for. It is only ever attached locally; a remote result carrying it is
	// rejected like any other unknown value.
	RelevanceUnavailable Relevance = "Unavailable"
)

// ParseRelevance validates a remote relevance value against the closed set.
func ParseRelevance(value string) (Relevance, error) {
	switch Relevance(value) {
	case RelevanceHigh, RelevanceMedium, RelevanceLow, RelevanceIrrelevant:
		return Relevance(value), nil
	}
	return "", fmt.Errorf("relevance %q is not in the allowed set", value)
}

// Enrichment is the structured per-record output of a completed batch job.
type Enrichment struct {
	TLDR       string    `json:"tldr"`
	Motivation string    `json:"motivation,omitempty"`
	Method     string    `json:"method,omitempty"`
	Result     string    `json:"result,omitempty"`
	Conclusion string    `json:"conclusion,omitempty"`
	Relevance  Relevance `json:"relevance"`
	Tags       []string  `json:"tags,omitempty"`
}

// Unavailable returns the sentinel enrichment attached to records the batch
// output holds no result for. Reconciled files always carry the full input id
// set; absence of a result never drops a record.
func Unavailable() *Enrichment {
	return &Enrichment{Relevance: RelevanceUnavailable}
}

// JobHandle ties a remote batch job to the local day it enriches.
type JobHandle struct {
	BatchID          string    `json:"batch_id"`
	InputFileID      string    `json:"input_file_id"`
	Day              string    `json:"day"`
	Model            string    `json:"model"`
	CompletionWindow string    `json:"completion_window"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// DayState enumerates the per-day lifecycle of the submit/reconcile protocol.
type DayState string

const (
	StateNotSubmitted DayState = "not-submitted"
	StateSubmitted    DayState = "submitted"
	StateInProgress   DayState = "in-progress"
	StateCompleted    DayState = "completed"
	StateFailed       DayState = "failed"
	StateReconciled   DayState = "reconciled"
)

// RemoteStatus is a raw batch job status as reported by the remote API.
type RemoteStatus string

const (
	RemoteValidating RemoteStatus = "validating"
	RemoteInProgress RemoteStatus = "in_progress"
	RemoteFinalizing RemoteStatus = "finalizing"
	RemoteCompleted  RemoteStatus = "completed"
	RemoteFailed     RemoteStatus = "failed"
	RemoteExpired    RemoteStatus = "expired"
	RemoteCancelled  RemoteStatus = "cancelled"
)

// BatchStatus is a snapshot of a remote batch job.
type BatchStatus struct {
	ID           string
	Status       RemoteStatus
	OutputFileID string
}

// DayState maps the remote status onto the local lifecycle.
func (s BatchStatus) DayState() DayState {
	switch s.Status {
	case RemoteValidating, RemoteInProgress, RemoteFinalizing:
		return StateInProgress
	case RemoteCompleted:
		return StateCompleted
	case RemoteFailed, RemoteExpired, RemoteCancelled:
		return StateFailed
	}
	return StateFailed
}
