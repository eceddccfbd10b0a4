// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"encoding/json"
	"fmt"

	"github.com/puppypeer/puppyagent/lib/grant"
)

// Request is one control-plane request variant.
type Request interface {
	requestName() string
}

// AuthMethod is Credentials or Token, externally tagged.
type AuthMethod struct {
	Credentials *Credentials
	Token       *TokenMethod
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenMethod struct {
	Token string `json:"token"`
}

func (m AuthMethod) MarshalJSON() ([]byte, error) {
	switch {
	case m.Credentials != nil:
		return marshalTagged("Credentials", false, m.Credentials)
	case m.Token != nil:
		return marshalTagged("Token", false, m.Token)
	}
	return nil, fmt.Errorf("authentication method is empty")
}

func (m *AuthMethod) UnmarshalJSON(data []byte) error {
	name, payload, err := splitTagged(data)
	if err != nil {
		return fmt.Errorf("decoding authentication method: %w", err)
	}
	switch name {
	case "Credentials":
		credentials, err := decodeVariant[Credentials](payload)
		if err != nil {
			return fmt.Errorf("decoding Credentials: %w", err)
		}
		*m = AuthMethod{Credentials: &credentials}
	case "Token":
		token, err := decodeVariant[TokenMethod](payload)
		if err != nil {
			return fmt.Errorf("decoding Token: %w", err)
		}
		*m = AuthMethod{Token: &token}
	default:
		return fmt.Errorf("unknown authentication method %q", name)
	}
	return nil
}

type Authenticate struct {
	Method AuthMethod `json:"method"`
}

type CreateUser struct {
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	Roles       []string      `json:"roles,omitempty"`
	Permissions []grant.Grant `json:"permissions,omitempty"`
}

type CreateToken struct {
	Username string `json:"username"`
	Label    string `json:"label"`

	// ExpiresIn is in seconds; absent means the token lives until
	// revoked.
	ExpiresIn   *uint64       `json:"expires_in,omitempty"`
	Permissions []grant.Grant `json:"permissions"`
}

type GrantAccess struct {
	Username    string        `json:"username"`
	Permissions []grant.Grant `json:"permissions"`
	Merge       bool          `json:"merge"`
}

type ListUsers struct{}

type ListTokens struct {
	// Username empty lists every account's tokens.
	Username string `json:"username,omitempty"`
}

type RevokeToken struct {
	TokenID string `json:"token_id"`
}

type RevokeUser struct {
	Username string `json:"username"`
}

// ListPermissions returns the caller's effective grants.
type ListPermissions struct{}

type GetVersion struct{}

type CheckUpdate struct {
	Channel string `json:"channel,omitempty"`
}

type UpdateVersion struct {
	Version string `json:"version,omitempty"`
	Channel string `json:"channel,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

type UpdateStatus struct {
	JobID string `json:"job_id"`
}

type RollbackUpdate struct{}

// ReportHealth delivers a supervisor's health outcome for a job.
type ReportHealth struct {
	JobID   string `json:"job_id"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

type BeginUploadUpdate struct {
	Target  string `json:"target"`
	Version string `json:"version"`
	Size    int64  `json:"size"`

	// SHA256 is lowercase hex.
	SHA256    string `json:"sha256"`
	Signature []byte `json:"signature"`
}

type UploadUpdateChunk struct {
	UploadID string `json:"upload_id"`
	Offset   int64  `json:"offset"`
	Data     []byte `json:"data"`
}

// UploadUpdateStatus reports the acknowledged offset so a client can
// resume after a disconnect.
type UploadUpdateStatus struct {
	UploadID string `json:"upload_id"`
}

type CommitUploadUpdate struct {
	UploadID string `json:"upload_id"`
}

type AbortUploadUpdate struct {
	UploadID string `json:"upload_id"`
}

func (Authenticate) requestName() string       { return "Authenticate" }
func (CreateUser) requestName() string         { return "CreateUser" }
func (CreateToken) requestName() string        { return "CreateToken" }
func (GrantAccess) requestName() string        { return "GrantAccess" }
func (ListUsers) requestName() string          { return "ListUsers" }
func (ListTokens) requestName() string         { return "ListTokens" }
func (RevokeToken) requestName() string        { return "RevokeToken" }
func (RevokeUser) requestName() string         { return "RevokeUser" }
func (ListPermissions) requestName() string    { return "ListPermissions" }
func (GetVersion) requestName() string         { return "GetVersion" }
func (CheckUpdate) requestName() string        { return "CheckUpdate" }
func (UpdateVersion) requestName() string      { return "UpdateVersion" }
func (UpdateStatus) requestName() string       { return "UpdateStatus" }
func (RollbackUpdate) requestName() string     { return "RollbackUpdate" }
func (ReportHealth) requestName() string       { return "ReportHealth" }
func (BeginUploadUpdate) requestName() string  { return "BeginUploadUpdate" }
func (UploadUpdateChunk) requestName() string  { return "UploadUpdateChunk" }
func (UploadUpdateStatus) requestName() string { return "UploadUpdateStatus" }
func (CommitUploadUpdate) requestName() string { return "CommitUploadUpdate" }
func (AbortUploadUpdate) requestName() string  { return "AbortUploadUpdate" }

func decodeRequest[T Request](payload json.RawMessage) (Request, error) {
	value, err := decodeVariant[T](payload)
	if err != nil {
		return nil, err
	}
	return value, nil
}

var requestDecoders = map[string]func(json.RawMessage) (Request, error){
	"Authenticate":       decodeRequest[Authenticate],
	"CreateUser":         decodeRequest[CreateUser],
	"CreateToken":        decodeRequest[CreateToken],
	"GrantAccess":        decodeRequest[GrantAccess],
	"ListUsers":          decodeRequest[ListUsers],
	"ListTokens":         decodeRequest[ListTokens],
	"RevokeToken":        decodeRequest[RevokeToken],
	"RevokeUser":         decodeRequest[RevokeUser],
	"ListPermissions":    decodeRequest[ListPermissions],
	"GetVersion":         decodeRequest[GetVersion],
	"CheckUpdate":        decodeRequest[CheckUpdate],
	"UpdateVersion":      decodeRequest[UpdateVersion],
	"UpdateStatus":       decodeRequest[UpdateStatus],
	"RollbackUpdate":     decodeRequest[RollbackUpdate],
	"ReportHealth":       decodeRequest[ReportHealth],
	"BeginUploadUpdate":  decodeRequest[BeginUploadUpdate],
	"UploadUpdateChunk":  decodeRequest[UploadUpdateChunk],
	"UploadUpdateStatus": decodeRequest[UploadUpdateStatus],
	"CommitUploadUpdate": decodeRequest[CommitUploadUpdate],
	"AbortUploadUpdate":  decodeRequest[AbortUploadUpdate],
}

// unitRequests have no fields and travel as bare strings.
var unitRequests = map[string]bool{
	"ListUsers":       true,
	"ListPermissions": true,
	"GetVersion":      true,
	"RollbackUpdate":  true,
}

// MarshalRequest encodes a request variant.
func MarshalRequest(request Request) ([]byte, error) {
	if request == nil {
		return nil, fmt.Errorf("request is nil")
	}
	name := request.requestName()
	return marshalTagged(name, unitRequests[name], request)
}

// UnmarshalRequest decodes a request variant.
func UnmarshalRequest(data []byte) (Request, error) {
	name, payload, err := splitTagged(data)
	if err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	decode, ok := requestDecoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown request %q", name)
	}
	request, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return request, nil
}
