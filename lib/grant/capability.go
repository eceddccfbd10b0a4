// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import "fmt"

// Operation is an action a caller can request.
type Operation int

const (
	// Authenticated needs nothing beyond a valid session.
	Authenticated Operation = iota

	ListDir
	StatFile
	ReadFile
	WriteFile
	ListCpus
	ListDisks
	ListInterfaces

	// Update covers CheckUpdate, UpdateVersion, UpdateStatus,
	// RollbackUpdate, and the upload calls.
	Update

	// ManageUsers covers CreateUser, GrantAccess, ListUsers, RevokeUser.
	ManageUsers
)

var operationNames = [...]string{
	Authenticated:  "Authenticated",
	ListDir:        "ListDir",
	StatFile:       "StatFile",
	ReadFile:       "ReadFile",
	WriteFile:      "WriteFile",
	ListCpus:       "ListCpus",
	ListDisks:      "ListDisks",
	ListInterfaces: "ListInterfaces",
	Update:         "SoftwareUpdate",
	ManageUsers:    "ManageUsers",
}

func (o Operation) String() string {
	if o >= 0 && int(o) < len(operationNames) {
		return operationNames[o]
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// Capability is what a single request requires.
type Capability struct {
	Operation Operation

	// Path is the requested path for file operations.
	Path string
}

// Need returns a capability for a non-file operation.
func Need(op Operation) Capability {
	return Capability{Operation: op}
}

// NeedPath returns a capability for a file operation on path.
func NeedPath(op Operation, path string) Capability {
	return Capability{Operation: op, Path: path}
}

func (c Capability) String() string {
	if c.Path != "" {
		return fmt.Sprintf("%s(%s)", c.Operation, c.Path)
	}
	return c.Operation.String()
}

// Covers reports whether grants satisfy capability.
func Covers(grants []Grant, capability Capability) bool {
	if Has(grants, Owner) {
		return true
	}
	switch capability.Operation {
	case Authenticated:
		return true
	case ListDir, StatFile:
		return Has(grants, Viewer) || filesCover(grants, capability.Path, "")
	case ReadFile:
		return filesCover(grants, capability.Path, Read)
	case WriteFile:
		return filesCover(grants, capability.Path, ReadWrite)
	case ListCpus:
		return Has(grants, SystemInfo) || Has(grants, Viewer)
	case ListDisks:
		return Has(grants, DiskInfo) || Has(grants, Viewer)
	case ListInterfaces:
		return Has(grants, NetworkInfo) || Has(grants, Viewer)
	case Update:
		return Has(grants, SoftwareUpdate)
	}
	return false
}

// filesCover reports whether some Files grant covers path with at
// least the given access. An empty access accepts any Files grant.
func filesCover(grants []Grant, path string, access FileAccess) bool {
	for _, g := range grants {
		if g.Kind != Files || !PathCovers(g.Path, path) {
			continue
		}
		if access == "" || g.Access.Covers(access) {
			return true
		}
	}
	return false
}

// Issuable reports whether a subject holding issuer may delegate g to
// a token. A token must never be able to do something the issuer
// cannot, so Owner is delegable only by Owner and a Files grant needs
// an issuer Files grant at least as broad in both path and access.
func Issuable(issuer []Grant, g Grant) bool {
	if Has(issuer, Owner) {
		return true
	}
	switch g.Kind {
	case SoftwareUpdate, Viewer:
		return Has(issuer, g.Kind)
	case SystemInfo, DiskInfo, NetworkInfo:
		return Has(issuer, g.Kind) || Has(issuer, Viewer)
	case Files:
		for _, held := range issuer {
			if held.Kind == Files && PathCovers(held.Path, g.Path) && held.Access.Covers(g.Access) {
				return true
			}
		}
	}
	return false
}

// Restrict returns the grants of requested that issuer may delegate.
// Token sessions resolve their effective grants this way on every
// check, so narrowing the issuer's grants narrows the token's.
func Restrict(issuer, requested []Grant) []Grant {
	result := make([]Grant, 0, len(requested))
	for _, g := range requested {
		if Issuable(issuer, g) {
			result = append(result, g)
		}
	}
	return Normalize(result)
}
