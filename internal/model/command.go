package model

import (
	"encoding/json"
	"time"
)

// CommandType discriminates the payload carried in a Command envelope.
type CommandType string

const (
	CmdCreateProject        CommandType = "CreateProject"
	CmdCreateSource         CommandType = "CreateSource"
	CmdCreateAnchor         CommandType = "CreateAnchor"
	CmdCreateAnchorFeature  CommandType = "CreateAnchorFeature"
	CmdCreateDerivedFeature CommandType = "CreateDerivedFeature"
	CmdDeleteEntity         CommandType = "DeleteEntity"
	CmdGrant                CommandType = "Grant"
	CmdRevoke               CommandType = "Revoke"
)

// Command is the envelope replicated through the Raft log. Payload is
// decoded into the concrete typed struct for Type by the state machine's
// Apply switch. All non-determinism (IDs, timestamps) is resolved by the
// leader before the command is ever constructed, so Apply is a pure
// function of (current state, Command).
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals a typed payload into a Command envelope.
func Encode(t CommandType, payload any) (Command, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{Type: t, Payload: b}, nil
}

// CreateProjectPayload creates a Project entity.
type CreateProjectPayload struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualifiedName"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// CreateSourcePayload creates a Source entity under a project.
type CreateSourcePayload struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualifiedName"`
	Labels        []string          `json:"labels,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
	Props         SourceProps       `json:"props"`
}

// CreateAnchorPayload creates an Anchor entity referencing a Source.
type CreateAnchorPayload struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	SourceID      string            `json:"sourceId"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualifiedName"`
	Labels        []string          `json:"labels,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// CreateAnchorFeaturePayload creates an AnchorFeature under an Anchor.
type CreateAnchorFeaturePayload struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	AnchorID      string            `json:"anchorId"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualifiedName"`
	Labels        []string          `json:"labels,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
	Props         FeatureProps      `json:"props"`
}

// CreateDerivedFeaturePayload creates a DerivedFeature under a project.
type CreateDerivedFeaturePayload struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	Name          string            `json:"name"`
	QualifiedName string            `json:"qualifiedName"`
	Labels        []string          `json:"labels,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	CreatedBy     string            `json:"createdBy"`
	CreatedAt     time.Time         `json:"createdAt"`
	Props         FeatureProps      `json:"props"`
	// InputAnchorFeatures and InputDerivedFeatures are unioned into the
	// entity's Feature.Consumes list before the Consumes edges are inserted.
	InputAnchorFeatures  []string `json:"inputAnchorFeatures,omitempty"`
	InputDerivedFeatures []string `json:"inputDerivedFeatures,omitempty"`
}

// DeleteEntityPayload deletes an entity by ID.
type DeleteEntityPayload struct {
	ID string `json:"id"`
}

// GrantPayload grants a permission on a scope to a user.
type GrantPayload struct {
	Scope      string    `json:"scope"`
	Credential string    `json:"credential"`
	Permission string    `json:"permission"`
	Requestor  string    `json:"requestor"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// RevokePayload soft-revokes a previously granted permission.
type RevokePayload struct {
	Scope      string    `json:"scope"`
	Credential string    `json:"credential"`
	DeletedBy  string    `json:"deletedBy"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// CommandResult is the value an Apply call returns: either a success
// payload or a typed error, never both. It is what the Raft node's
// ApplyFuture.Response() surfaces to the HTTP handler that submitted it.
type CommandResult struct {
	Payload any
	Err     error
}
