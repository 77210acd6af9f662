// Package trail extracts resource creation events from CloudTrail log documents.
package trail

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// ErrMalformedDocument is returned when a document is not a JSON object.
var ErrMalformedDocument = errors.New("malformed document")

// CreationEvent records who created a resource.
type CreationEvent struct {
	ResourceID string `json:"resource_id"`
	Owner      string `json:"owner"`
}

// Rule describes the audit entries that announce the creation of one resource kind.
//
// Paths are dotted field names relative to a single record. Numeric segments
// index into arrays, so "responseElements.instancesSet.items.0.instanceId"
// resolves the first launched instance.
type Rule struct {
	EventName   string
	EventSource string // optional, e.g. "ec2.amazonaws.com"

	// Guard names a record field that must be present and non-null.
	// Defaults to "responseElements", which is null for failed calls.
	Guard string

	IDPath    string
	OwnerPath string // defaults to "userIdentity.arn"

	// Qualify turns a local identifier into the form the live inventory
	// reports, e.g. a cluster name into its ARN. Optional.
	Qualify func(id string) string
}

func (r Rule) guard() string {
	if r.Guard == "" {
		return "responseElements"
	}
	return r.Guard
}

func (r Rule) ownerPath() string {
	if r.OwnerPath == "" {
		return "userIdentity.arn"
	}
	return r.OwnerPath
}

// Document is one decompressed audit-log document.
type Document interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileDocument is a document staged on disk.
type FileDocument string

func (d FileDocument) Name() string { return string(d) }

func (d FileDocument) Open() (io.ReadCloser, error) {
	return os.Open(string(d))
}

// BytesDocument is a document held in memory.
type BytesDocument struct {
	Label string
	Data  []byte
}

func (d BytesDocument) Name() string { return d.Label }

func (d BytesDocument) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(d.Data)), nil
}
