// Package model defines the registry's data model: entity kinds, entities,
// edges, and the command envelopes the Raft log carries.
package model

import "time"

// Kind is the closed set of entity kinds the registry stores.
type Kind string

const (
	KindProject        Kind = "Project"
	KindSource         Kind = "Source"
	KindAnchor         Kind = "Anchor"
	KindAnchorFeature  Kind = "AnchorFeature"
	KindDerivedFeature Kind = "DerivedFeature"
)

// EdgeKind is the closed set of directed relations between entities.
type EdgeKind string

const (
	EdgeBelongsTo EdgeKind = "BelongsTo"
	EdgeContains  EdgeKind = "Contains"
	EdgeConsumes  EdgeKind = "Consumes"
	EdgeProduces  EdgeKind = "Produces"
)

// Complement returns the edge kind recorded alongside k when k is inserted,
// and the direction the complement points (from -> to is reversed).
func (k EdgeKind) Complement() EdgeKind {
	switch k {
	case EdgeContains:
		return EdgeBelongsTo
	case EdgeBelongsTo:
		return EdgeContains
	case EdgeConsumes:
		return EdgeProduces
	case EdgeProduces:
		return EdgeConsumes
	default:
		return ""
	}
}

// TypedKey is join-key column metadata carried by a feature.
type TypedKey struct {
	KeyColumn      string `json:"keyColumn"`
	KeyColumnType  string `json:"keyColumnType"`
	FullName       string `json:"fullName,omitempty"`
	Description    string `json:"description,omitempty"`
	KeyColumnAlias string `json:"keyColumnAlias,omitempty"`
}

// Transformation is one of: raw expression, windowed aggregation, UDF, or
// SQL expression. Exactly one non-empty variant is set.
type Transformation struct {
	Expression        string   `json:"expression,omitempty"`
	WindowSize        string   `json:"windowSize,omitempty"`
	Aggregation       string   `json:"aggregation,omitempty"`
	Filter            string   `json:"filter,omitempty"`
	GroupBy           []string `json:"groupBy,omitempty"`
	UDFName           string   `json:"udfName,omitempty"`
	SQLExpr           string   `json:"sqlExpr,omitempty"`
}

// FeatureType describes a feature's value shape.
type FeatureType struct {
	ValueType     string `json:"valueType"`
	TensorCategory string `json:"tensorCategory"`
	Dimensions    []int  `json:"dimensions,omitempty"`
}

// ProjectProps holds Project-kind properties (tags only, carried on Entity).
type ProjectProps struct{}

// SourceProps holds Source-kind properties.
type SourceProps struct {
	SourceType           string `json:"sourceType"`
	Path                 string `json:"path,omitempty"`
	URL                  string `json:"url,omitempty"`
	DBTable              string `json:"dbTable,omitempty"`
	Query                string `json:"query,omitempty"`
	Auth                 string `json:"auth,omitempty"`
	EventTimestampColumn string `json:"eventTimestampColumn,omitempty"`
	TimestampFormat      string `json:"timestampFormat,omitempty"`
	Preprocessing        string `json:"preprocessing,omitempty"`
}

// AnchorProps holds Anchor-kind properties.
type AnchorProps struct {
	SourceID string `json:"sourceId"`
}

// FeatureProps holds properties shared by AnchorFeature and DerivedFeature.
type FeatureProps struct {
	FeatureType    FeatureType    `json:"featureType"`
	Transformation Transformation `json:"transformation"`
	Keys           []TypedKey     `json:"keys"`
	// Consumes is only populated for DerivedFeature: the set of upstream
	// anchor-feature and derived-feature IDs this feature is computed from.
	Consumes []string `json:"consumes,omitempty"`
}

// Entity is the tagged-variant record for every entity kind. A single
// struct carries every kind's fields; Props holds the kind-discriminated
// payload so the graph's storage vector stays one homogeneous slice.
type Entity struct {
	ID            string            `json:"id"`
	Kind          Kind              `json:"kind"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualifiedName"`
	Labels        []string          `json:"labels,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`

	Source  *SourceProps  `json:"source,omitempty"`
	Anchor  *AnchorProps  `json:"anchor,omitempty"`
	Feature *FeatureProps `json:"feature,omitempty"`
}

// DisplayText is the FTS document's free-text field: kind-specific
// human-readable summary beyond name/qualifiedName/labels.
func (e *Entity) DisplayText() string {
	switch e.Kind {
	case KindSource:
		if e.Source != nil {
			return e.Source.SourceType
		}
	case KindAnchorFeature, KindDerivedFeature:
		if e.Feature != nil {
			return e.Feature.FeatureType.ValueType
		}
	}
	return ""
}

// Edge is a directed relation between two entity IDs.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}
