// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/puppypeer/puppyagent/lib/grant"
)

// Response is one control-plane response variant.
type Response interface {
	responseName() string
}

// SessionInfo describes an opened session. Permissions is a snapshot
// for display; authorization always reads live grants.
type SessionInfo struct {
	SessionID   string        `json:"session_id"`
	Kind        string        `json:"kind"`
	Username    string        `json:"username,omitempty"`
	Roles       []string      `json:"roles"`
	Permissions []grant.Grant `json:"permissions"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

type AuthSuccess struct {
	Session SessionInfo `json:"session"`
}

type AuthFailure struct {
	Reason string `json:"reason"`
}

type UserCreated struct {
	Username string `json:"username"`
}

// TokenIssued is the only response that ever carries a token value.
type TokenIssued struct {
	Token       string        `json:"token"`
	TokenID     string        `json:"token_id"`
	Username    string        `json:"username"`
	Permissions []grant.Grant `json:"permissions"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

type AccessGranted struct {
	Username    string        `json:"username"`
	Permissions []grant.Grant `json:"permissions"`
}

type UserSummary struct {
	Username    string        `json:"username"`
	Roles       []string      `json:"roles"`
	Permissions []grant.Grant `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
}

type Users []UserSummary

type TokenInfo struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	Label       string        `json:"label"`
	Permissions []grant.Grant `json:"permissions"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Revoked     bool          `json:"revoked"`
	IssuedAt    time.Time     `json:"issued_at"`
	IssuedBy    string        `json:"issued_by,omitempty"`
}

type Tokens []TokenInfo

type TokenRevoked struct {
	TokenID string `json:"token_id"`
}

type UserRemoved struct {
	Username string `json:"username"`
}

type Permissions []grant.Grant

type Version struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Target  string `json:"target"`
}

// UpdateCheck answers CheckUpdate. Its wire name is "UpdateStatus".
type UpdateCheck struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	Available bool   `json:"available"`
	NotesURL  string `json:"notes_url,omitempty"`
}

type UpdateStarted struct {
	JobID  string `json:"job_id"`
	Target string `json:"target"`
}

type UpdateState struct {
	JobID        string `json:"job_id"`
	Kind         string `json:"kind"`
	Target       string `json:"target"`
	Status       string `json:"status"`
	Pct          int    `json:"pct"`
	BytesFetched int64  `json:"bytes_fetched"`
	EtaSecs      uint64 `json:"eta_secs"`
	Message      string `json:"message"`
}

type RollbackStarted struct {
	JobID  string `json:"job_id"`
	Target string `json:"target"`
}

type HealthRecorded struct {
	JobID string `json:"job_id"`
}

type UploadSession struct {
	UploadID  string    `json:"upload_id"`
	Offset    int64     `json:"offset"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ChunkAck struct {
	NextOffset int64 `json:"next_offset"`
}

type UploadAborted struct {
	UploadID string `json:"upload_id"`
}

// Error is the response to any failure other than authentication. It
// reads "Kind: message". When the failure was recorded on an update job
// (an upload that fails verification on commit) the message ends with
// " (job <id>)", and UpdateStatus for that id returns the failed job.
type Error string

func (AuthSuccess) responseName() string     { return "AuthSuccess" }
func (AuthFailure) responseName() string     { return "AuthFailure" }
func (UserCreated) responseName() string     { return "UserCreated" }
func (TokenIssued) responseName() string     { return "TokenIssued" }
func (AccessGranted) responseName() string   { return "AccessGranted" }
func (Users) responseName() string           { return "Users" }
func (Tokens) responseName() string          { return "Tokens" }
func (TokenRevoked) responseName() string    { return "TokenRevoked" }
func (UserRemoved) responseName() string     { return "UserRemoved" }
func (Permissions) responseName() string     { return "Permissions" }
func (Version) responseName() string         { return "Version" }
func (UpdateCheck) responseName() string     { return "UpdateStatus" }
func (UpdateStarted) responseName() string   { return "UpdateStarted" }
func (UpdateState) responseName() string     { return "UpdateState" }
func (RollbackStarted) responseName() string { return "RollbackStarted" }
func (HealthRecorded) responseName() string  { return "HealthRecorded" }
func (UploadSession) responseName() string   { return "UploadSession" }
func (ChunkAck) responseName() string        { return "ChunkAck" }
func (UploadAborted) responseName() string   { return "UploadAborted" }
func (Error) responseName() string           { return "Error" }

func decodeResponse[T Response](payload json.RawMessage) (Response, error) {
	value, err := decodeVariant[T](payload)
	if err != nil {
		return nil, err
	}
	return value, nil
}

var responseDecoders = map[string]func(json.RawMessage) (Response, error){
	"AuthSuccess":     decodeResponse[AuthSuccess],
	"AuthFailure":     decodeResponse[AuthFailure],
	"UserCreated":     decodeResponse[UserCreated],
	"TokenIssued":     decodeResponse[TokenIssued],
	"AccessGranted":   decodeResponse[AccessGranted],
	"Users":           decodeResponse[Users],
	"Tokens":          decodeResponse[Tokens],
	"TokenRevoked":    decodeResponse[TokenRevoked],
	"UserRemoved":     decodeResponse[UserRemoved],
	"Permissions":     decodeResponse[Permissions],
	"Version":         decodeResponse[Version],
	"UpdateStatus":    decodeResponse[UpdateCheck],
	"UpdateStarted":   decodeResponse[UpdateStarted],
	"UpdateState":     decodeResponse[UpdateState],
	"RollbackStarted": decodeResponse[RollbackStarted],
	"HealthRecorded":  decodeResponse[HealthRecorded],
	"UploadSession":   decodeResponse[UploadSession],
	"ChunkAck":        decodeResponse[ChunkAck],
	"UploadAborted":   decodeResponse[UploadAborted],
	"Error":           decodeResponse[Error],
}

// MarshalResponse encodes a response variant.
func MarshalResponse(response Response) ([]byte, error) {
	if response == nil {
		return nil, fmt.Errorf("response is nil")
	}
	return marshalTagged(response.responseName(), false, response)
}

// UnmarshalResponse decodes a response variant.
func UnmarshalResponse(data []byte) (Response, error) {
	name, payload, err := splitTagged(data)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	decode, ok := responseDecoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown response %q", name)
	}
	response, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return response, nil
}
