/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package epcis

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Schema versions accepted at capture time.
const (
	Version10 = "1.0"
	Version11 = "1.1"
	Version12 = "1.2"
	Version20 = "2.0"
)

// Event type tags. QuantityEvent only occurs in 1.x documents.
const (
	ObjectEvent         = "ObjectEvent"
	AggregationEvent    = "AggregationEvent"
	TransactionEvent    = "TransactionEvent"
	TransformationEvent = "TransformationEvent"
	QuantityEvent       = "QuantityEvent"
)

// EventTypes lists every known event type tag.
var EventTypes = []string{ObjectEvent, AggregationEvent, TransactionEvent, TransformationEvent, QuantityEvent}

// Action values as they appear on the wire.
const (
	ActionAdd     = "ADD"
	ActionObserve = "OBSERVE"
	ActionDelete  = "DELETE"
)

// EpcType partitions the EPC list of an event by the role the identifier
// plays in it.
type EpcType string

// EPC roles.
const (
	EpcList     EpcType = "epcList"
	EpcChild    EpcType = "childEpc"
	EpcParentID EpcType = "parentId"
	EpcInput    EpcType = "inputEpc"
	EpcOutput   EpcType = "outputEpc"
	EpcQuantity EpcType = "quantity"
)

// FieldType tags the subtree a flattened field was lifted from.
type FieldType string

// Field subtree tags. Attributes share the element's parentIndex and are
// tagged FieldAttribute regardless of the subtree they appear in.
const (
	FieldIlmd             FieldType = "ilmd"
	FieldCustom           FieldType = "custom"
	FieldSensorElementExt FieldType = "sensorElementExt"
	FieldSensorReportExt  FieldType = "sensorReportExt"
	FieldAttribute        FieldType = "attribute"
)

// Epc is one typed identifier reference owned by an event.
type Epc struct {
	// Role of the identifier inside its event
	Type EpcType `json:"type" bson:"type"`
	// URI form of the EPC or EPC class
	ID string `json:"id" bson:"id"`
	// Quantity for class-level references
	Quantity *float64 `json:"quantity,omitempty" bson:"quantity,omitempty"`
	// Unit of measure for the quantity
	UnitOfMeasure string `json:"uom,omitempty" bson:"uom,omitempty"`
}

// BusinessTransaction references a transaction document tied to an event.
type BusinessTransaction struct {
	Type string `json:"type" bson:"type"`
	ID   string `json:"id" bson:"id"`
}

// Source is a source element of an event.
type Source struct {
	Type string `json:"type" bson:"type"`
	ID   string `json:"id" bson:"id"`
}

// Destination is a destination element of an event.
type Destination struct {
	Type string `json:"type" bson:"type"`
	ID   string `json:"id" bson:"id"`
}

// PersistentDisposition records a disposition set or unset by an event.
type PersistentDisposition struct {
	// Either "set" or "unset"
	Type string `json:"type" bson:"type"`
	ID   string `json:"id" bson:"id"`
}

// Field is one entry of the flat, indexed representation of a hierarchical
// custom-namespace subtree (ILMD, event extensions, sensor extensions).
// Hierarchy is encoded by Index/ParentIndex, not by nesting: Index is the
// DFS position inside the owning event, ParentIndex references the parent
// entry or is nil for a root. EntityIndex binds the field to one owned
// entity (a specific sensor element or report) when it has one.
type Field struct {
	Type      FieldType `json:"type" bson:"type"`
	Namespace string    `json:"namespace,omitempty" bson:"namespace,omitempty"`
	Name      string    `json:"name" bson:"name"`
	// Value slots, filled speculatively from the source text so any of
	// them may satisfy a predicate
	TextValue    *string    `json:"textValue,omitempty" bson:"textValue,omitempty"`
	NumericValue *float64   `json:"numericValue,omitempty" bson:"numericValue,omitempty"`
	DateValue    *time.Time `json:"dateValue,omitempty" bson:"dateValue,omitempty"`

	Index       int  `json:"index" bson:"index"`
	ParentIndex *int `json:"parentIndex,omitempty" bson:"parentIndex,omitempty"`
	EntityIndex *int `json:"entityIndex,omitempty" bson:"entityIndex,omitempty"`
}

// SensorElement groups the sensor reports recorded by one device reading.
type SensorElement struct {
	Index                int        `json:"index" bson:"index"`
	Time                 *time.Time `json:"time,omitempty" bson:"time,omitempty"`
	DeviceID             string     `json:"deviceId,omitempty" bson:"deviceId,omitempty"`
	DeviceMetadata       string     `json:"deviceMetadata,omitempty" bson:"deviceMetadata,omitempty"`
	RawData              string     `json:"rawData,omitempty" bson:"rawData,omitempty"`
	DataProcessingMethod string     `json:"dataProcessingMethod,omitempty" bson:"dataProcessingMethod,omitempty"`
	BizRules             string     `json:"bizRules,omitempty" bson:"bizRules,omitempty"`
	StartTime            *time.Time `json:"startTime,omitempty" bson:"startTime,omitempty"`
	EndTime              *time.Time `json:"endTime,omitempty" bson:"endTime,omitempty"`
}

// SensorReport is a single measurement inside a sensor element.
type SensorReport struct {
	Index int `json:"index" bson:"index"`
	// Index of the owning SensorElement inside the same event
	SensorIndex int `json:"sensorIndex" bson:"sensorIndex"`

	Type                      string     `json:"reportType,omitempty" bson:"reportType,omitempty"`
	DeviceID                  string     `json:"deviceId,omitempty" bson:"deviceId,omitempty"`
	DeviceMetadata            string     `json:"deviceMetadata,omitempty" bson:"deviceMetadata,omitempty"`
	RawData                   string     `json:"rawData,omitempty" bson:"rawData,omitempty"`
	DataProcessingMethod      string     `json:"dataProcessingMethod,omitempty" bson:"dataProcessingMethod,omitempty"`
	Time                      *time.Time `json:"time,omitempty" bson:"time,omitempty"`
	Microorganism             string     `json:"microorganism,omitempty" bson:"microorganism,omitempty"`
	ChemicalSubstance         string     `json:"chemicalSubstance,omitempty" bson:"chemicalSubstance,omitempty"`
	Value                     *float64   `json:"value,omitempty" bson:"value,omitempty"`
	StringValue               string     `json:"stringValue,omitempty" bson:"stringValue,omitempty"`
	BooleanValue              *bool      `json:"booleanValue,omitempty" bson:"booleanValue,omitempty"`
	HexBinaryValue            string     `json:"hexBinaryValue,omitempty" bson:"hexBinaryValue,omitempty"`
	URIValue                  string     `json:"uriValue,omitempty" bson:"uriValue,omitempty"`
	MinValue                  *float64   `json:"minValue,omitempty" bson:"minValue,omitempty"`
	MaxValue                  *float64   `json:"maxValue,omitempty" bson:"maxValue,omitempty"`
	MeanValue                 *float64   `json:"meanValue,omitempty" bson:"meanValue,omitempty"`
	SDev                      *float64   `json:"sDev,omitempty" bson:"sDev,omitempty"`
	PercRank                  *float64   `json:"percRank,omitempty" bson:"percRank,omitempty"`
	PercValue                 *float64   `json:"percValue,omitempty" bson:"percValue,omitempty"`
	UnitOfMeasure             string     `json:"uom,omitempty" bson:"uom,omitempty"`
	CoordinateReferenceSystem string     `json:"coordinateReferenceSystem,omitempty" bson:"coordinateReferenceSystem,omitempty"`
}

// Event is one EPCIS event. The four 2.0 variants (and the 1.x
// QuantityEvent) share this record shape; variant rules are enforced by
// the validators.
type Event struct {
	// Storage primary key, zero until persisted
	ID int64 `json:"-" bson:"id"`
	// Stable content hash or client-supplied URI
	EventID string `json:"eventId" bson:"eventId"`
	// One of the event type tags
	Type string `json:"type" bson:"eventType"`

	TenantID string `json:"-" bson:"tenantId"`

	EventTime           time.Time `json:"eventTime" bson:"eventTime"`
	EventTimeZoneOffset string    `json:"eventTimeZoneOffset" bson:"eventTimeZoneOffset"`
	// Server-assigned at persistence, equal to the owning capture's
	RecordTime time.Time `json:"recordTime,omitempty" bson:"recordTime"`

	// Absent for TransformationEvent
	Action string `json:"action,omitempty" bson:"action,omitempty"`

	BusinessStep     string `json:"bizStep,omitempty" bson:"bizStep,omitempty"`
	Disposition      string `json:"disposition,omitempty" bson:"disposition,omitempty"`
	ReadPoint        string `json:"readPoint,omitempty" bson:"readPoint,omitempty"`
	BusinessLocation string `json:"bizLocation,omitempty" bson:"bizLocation,omitempty"`

	TransformationID  string `json:"transformationId,omitempty" bson:"transformationId,omitempty"`
	CertificationInfo string `json:"certificationInfo,omitempty" bson:"certificationInfo,omitempty"`

	CorrectiveDeclarationTime *time.Time `json:"correctiveDeclarationTime,omitempty" bson:"correctiveDeclarationTime,omitempty"`
	CorrectiveReason          string     `json:"correctiveReason,omitempty" bson:"correctiveReason,omitempty"`
	CorrectiveEventIDs        []string   `json:"correctiveEventIds,omitempty" bson:"correctiveEventIds,omitempty"`

	Epcs                   []Epc                   `json:"epcs,omitempty" bson:"epcs,omitempty"`
	Transactions           []BusinessTransaction   `json:"bizTransactions,omitempty" bson:"bizTransactions,omitempty"`
	Sources                []Source                `json:"sources,omitempty" bson:"sources,omitempty"`
	Destinations           []Destination           `json:"destinations,omitempty" bson:"destinations,omitempty"`
	PersistentDispositions []PersistentDisposition `json:"persistentDispositions,omitempty" bson:"persistentDispositions,omitempty"`
	SensorElements         []SensorElement         `json:"sensorElements,omitempty" bson:"sensorElements,omitempty"`
	Reports                []SensorReport          `json:"sensorReports,omitempty" bson:"sensorReports,omitempty"`
	Fields                 []Field                 `json:"fields,omitempty" bson:"fields,omitempty"`
}

// EpcsOfType returns the event's EPCs carrying the given role.
func (event *Event) EpcsOfType(epcType EpcType) []Epc {
	var out []Epc
	for _, epc := range event.Epcs {
		if epc.Type == epcType {
			out = append(out, epc)
		}
	}
	return out
}

// Value implements driver.Valuer interfaces
func (event Event) Value() (driver.Value, error) {
	return json.Marshal(event)
}

// Scan implements sql.Scanner interfaces
func (event *Event) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, event)
}

// StandardBusinessHeader carries the SBDH document header when the
// submitter provided one.
type StandardBusinessHeader struct {
	Standard           string     `json:"standard,omitempty" bson:"standard,omitempty"`
	TypeVersion        string     `json:"typeVersion,omitempty" bson:"typeVersion,omitempty"`
	InstanceIdentifier string     `json:"instanceIdentifier,omitempty" bson:"instanceIdentifier,omitempty"`
	DocumentType       string     `json:"documentType,omitempty" bson:"documentType,omitempty"`
	Sender             string     `json:"sender,omitempty" bson:"sender,omitempty"`
	Receiver           string     `json:"receiver,omitempty" bson:"receiver,omitempty"`
	CreationDateTime   *time.Time `json:"creationDateTime,omitempty" bson:"creationDateTime,omitempty"`
}

// MasterDataAttribute is one name/value attribute of a vocabulary entry.
type MasterDataAttribute struct {
	ID    string `json:"id" bson:"id"`
	Value string `json:"value" bson:"value"`
}

// MasterData is a typed vocabulary entry captured in a document header.
type MasterData struct {
	// Vocabulary type URI, e.g. urn:epcglobal:epcis:vtype:BusinessLocation
	Type string `json:"type" bson:"type"`
	// Entry URI
	ID         string                `json:"id" bson:"id"`
	Attributes []MasterDataAttribute `json:"attributes,omitempty" bson:"attributes,omitempty"`
	// Entry URIs declared children of this entry
	Children []string `json:"children,omitempty" bson:"children,omitempty"`
}

// Vocabulary type URIs used by the with-descendants and attribute
// predicates.
const (
	VocabBusinessLocation = "urn:epcglobal:epcis:vtype:BusinessLocation"
	VocabReadPoint        = "urn:epcglobal:epcis:vtype:ReadPoint"
)

// Capture is the top-level unit of ingestion. Once persisted the whole
// aggregate is immutable.
type Capture struct {
	// Storage primary key, zero until persisted
	ID int64 `json:"-" bson:"id"`
	// External UUID identity
	CaptureID string `json:"captureId" bson:"captureId"`

	TenantID string `json:"-" bson:"tenantId"`

	// Client-supplied document creation time
	DocumentTime time.Time `json:"documentTime" bson:"documentTime"`
	// Server-assigned, UTC, set atomically with persistence
	RecordTime time.Time `json:"recordTime,omitempty" bson:"recordTime"`

	SchemaVersion string `json:"schemaVersion" bson:"schemaVersion"`

	Header *StandardBusinessHeader `json:"header,omitempty" bson:"header,omitempty"`

	// Extension namespaces declared by the document, prefix to URI
	Namespaces map[string]string `json:"namespaces,omitempty" bson:"namespaces,omitempty"`

	Events     []Event      `json:"events,omitempty" bson:"events,omitempty"`
	MasterData []MasterData `json:"masterData,omitempty" bson:"masterData,omitempty"`
}

// Value implements driver.Valuer interfaces
func (capture Capture) Value() (driver.Value, error) {
	return json.Marshal(capture)
}

// Scan implements sql.Scanner interfaces
func (capture *Capture) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, capture)
}

// Parameter is one (name, values) pair of the closed EPCIS query grammar.
type Parameter struct {
	Name   string   `json:"name" bson:"name"`
	Values []string `json:"values" bson:"values"`
}

// StoredQuery is a named query frozen at creation time.
type StoredQuery struct {
	ID         int64       `json:"-" bson:"id"`
	Name       string      `json:"name" bson:"name"`
	QueryName  string      `json:"queryName" bson:"queryName"`
	TenantID   string      `json:"-" bson:"tenantId"`
	Parameters []Parameter `json:"parameters,omitempty" bson:"parameters,omitempty"`
	CreatedAt  time.Time   `json:"createdAt" bson:"createdAt"`
}

// Value implements driver.Valuer interfaces
func (storedQuery StoredQuery) Value() (driver.Value, error) {
	return json.Marshal(storedQuery)
}

// Scan implements sql.Scanner interfaces
func (storedQuery *StoredQuery) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, storedQuery)
}

// Predefined query names served by the query engine.
const (
	SimpleEventQuery      = "SimpleEventQuery"
	SimpleMasterDataQuery = "SimpleMasterDataQuery"
)

// Subscription is a standing named query with a delivery destination.
type Subscription struct {
	ID int64 `json:"-" bson:"id"`
	// External UUID identity
	SubscriptionID string `json:"subscriptionId" bson:"subscriptionId"`
	// Unique per tenant
	Name      string `json:"name" bson:"name"`
	QueryName string `json:"queryName" bson:"queryName"`
	TenantID  string `json:"-" bson:"tenantId"`

	// Frozen at creation
	Parameters []Parameter `json:"parameters,omitempty" bson:"parameters,omitempty"`

	// Webhook URL (http/https) or socket topic (ws:topic-name)
	Destination string `json:"destination" bson:"destination"`

	// Stream subscriptions fire on capture; scheduled ones on the cron
	// expression in Schedule
	Stream   bool   `json:"stream" bson:"stream"`
	Schedule string `json:"schedule,omitempty" bson:"schedule,omitempty"`

	ReportIfEmpty bool `json:"reportIfEmpty" bson:"reportIfEmpty"`

	// Watermark over recordTime; never decreases
	InitialRecordTime time.Time `json:"initialRecordTime" bson:"initialRecordTime"`
	LastExecutedTime  time.Time `json:"lastExecutedTime" bson:"lastExecutedTime"`

	Active bool `json:"active" bson:"active"`

	// Delivery accounting, serialized per subscription
	Attempts  int64  `json:"attempts" bson:"attempts"`
	Failures  int64  `json:"failures" bson:"failures"`
	LastError string `json:"lastError,omitempty" bson:"lastError,omitempty"`
}

// Value implements driver.Valuer interfaces
func (subscription Subscription) Value() (driver.Value, error) {
	return json.Marshal(subscription)
}

// Scan implements sql.Scanner interfaces
func (subscription *Subscription) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, subscription)
}

// SocketDestinationPrefix marks a subscription destination as a socket
// topic rather than a webhook URL.
const SocketDestinationPrefix = "ws:"
