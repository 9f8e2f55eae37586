// Package ingest turns uploaded resumes and job posting URLs into plain
// text for a tailoring session.
package ingest

import "fmt"

// IngestionError reports a document whose text could not be extracted.
type IngestionError struct {
	Reason string
	Err    error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingestion failed: %s: %v", e.Reason, e.Err)
	}
	return "ingestion failed: " + e.Reason
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// FetchError reports a job posting that could not be retrieved or held no
// recognizable description.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
