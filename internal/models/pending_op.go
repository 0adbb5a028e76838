package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// OpKind tags the variant of a queued operation.
type OpKind string

const (
	KindManualRound OpKind = "manual-round-full"
	KindPedestrian  OpKind = "pedestrian-full"
	KindVehicle     OpKind = "vehicle-full"
	KindIncident    OpKind = "incident-full"
	KindFieldUpdate OpKind = "field-update"
)

// RecordKind is the kind of log a full-document creation writes.
type RecordKind string

const (
	RecordManualRound RecordKind = "manual-round"
	RecordPedestrian  RecordKind = "pedestrian"
	RecordVehicle     RecordKind = "vehicle"
	RecordIncident    RecordKind = "incident"
)

// ErrUnknownKind is returned when a queued entry carries an unrecognized kind.
var ErrUnknownKind = errors.New("unknown operation kind")

var recordCollections = map[RecordKind]string{
	RecordManualRound: "manual_round",
	RecordPedestrian:  "pedestrian_access",
	RecordVehicle:     "vehicle_access",
	RecordIncident:    "incident",
}

var recordFolders = map[RecordKind]string{
	RecordManualRound: "manual-rounds",
	RecordPedestrian:  "pedestrian-access",
	RecordVehicle:     "vehicle-access",
	RecordIncident:    "incidents",
}

// ParseRecordKind validates a record kind name.
func ParseRecordKind(s string) (RecordKind, error) {
	k := RecordKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := recordCollections[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Collection is the remote collection records of this kind are written to.
func (k RecordKind) Collection() string { return recordCollections[k] }

// Folder is the blob store folder for media attached to records of this kind.
func (k RecordKind) Folder() string { return recordFolders[k] }

// Operation is the closed set of deferred remote writes.
// Only CreateRecord and UpdateFields implement it.
type Operation interface {
	Kind() OpKind
	operation()
}

// CreateRecord writes a new document to the kind's collection.
type CreateRecord struct {
	Record    RecordKind
	Data      map[string]any
	Photo     Embedded
	Signature Embedded
}

func (CreateRecord) operation() {}

// Kind implements Operation.
func (c CreateRecord) Kind() OpKind { return OpKind(string(c.Record) + "-full") }

// UpdateFields merges fields into an existing document. MediaPrefix locates the
// photo/signature fields inside the document, e.g. "records.2." for a checkpoint.
type UpdateFields struct {
	DocPath     string
	Data        map[string]any
	Photo       Embedded
	Signature   Embedded
	MediaPrefix string
}

func (UpdateFields) operation() {}

// Kind implements Operation.
func (UpdateFields) Kind() OpKind { return KindFieldUpdate }

// PendingOp is a durable queue entry for a remote write that has not been confirmed.
type PendingOp struct {
	ID        string
	Client    string
	Site      string
	Unit      string
	CreatedAt time.Time
	Op        Operation
}

// Kind returns the variant tag, or "" when no operation is set.
func (p PendingOp) Kind() OpKind {
	if p.Op == nil {
		return ""
	}
	return p.Op.Kind()
}

// opEnvelope is the persisted JSON shape of a PendingOp.
type opEnvelope struct {
	ID          string         `json:"id"`
	Kind        OpKind         `json:"kind"`
	Client      string         `json:"client,omitempty"`
	Site        string         `json:"site,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DocPath     string         `json:"doc_path,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Photo       Embedded       `json:"photo,omitempty"`
	Signature   Embedded       `json:"signature,omitempty"`
	MediaPrefix string         `json:"media_prefix,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p PendingOp) MarshalJSON() ([]byte, error) {
	env := opEnvelope{
		ID:        p.ID,
		Client:    p.Client,
		Site:      p.Site,
		Unit:      p.Unit,
		CreatedAt: p.CreatedAt,
	}
	switch op := p.Op.(type) {
	case CreateRecord:
		env.Kind = op.Kind()
		env.Data = op.Data
		env.Photo = op.Photo
		env.Signature = op.Signature
	case UpdateFields:
		env.Kind = op.Kind()
		env.DocPath = op.DocPath
		env.Data = op.Data
		env.Photo = op.Photo
		env.Signature = op.Signature
		env.MediaPrefix = op.MediaPrefix
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, p.Op)
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler. Legacy field names are mapped
// to the canonical envelope before decoding.
func (p *PendingOp) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	normalized, err := json.Marshal(normalizeLegacyOp(raw))
	if err != nil {
		return err
	}
	var env opEnvelope
	if err := json.Unmarshal(normalized, &env); err != nil {
		return err
	}

	*p = PendingOp{
		ID:        env.ID,
		Client:    env.Client,
		Site:      env.Site,
		Unit:      env.Unit,
		CreatedAt: env.CreatedAt,
	}
	switch env.Kind {
	case KindManualRound, KindPedestrian, KindVehicle, KindIncident:
		p.Op = CreateRecord{
			Record:    RecordKind(strings.TrimSuffix(string(env.Kind), "-full")),
			Data:      env.Data,
			Photo:     env.Photo,
			Signature: env.Signature,
		}
	case KindFieldUpdate:
		p.Op = UpdateFields{
			DocPath:     env.DocPath,
			Data:        env.Data,
			Photo:       env.Photo,
			Signature:   env.Signature,
			MediaPrefix: env.MediaPrefix,
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return nil
}

// ParseDocPath splits "table/id" (or "table:id") into its parts.
func ParseDocPath(path string) (table, id string, err error) {
	path = strings.TrimSpace(path)
	sep := strings.IndexAny(path, "/:")
	if sep <= 0 || sep == len(path)-1 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	return path[:sep], path[sep+1:], nil
}

// DocPath joins a table and id into a document path.
func DocPath(table, id string) string {
	return table + "/" + id
}
