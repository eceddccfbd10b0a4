// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Kind identifies a PermissionGrant variant.
type Kind string

const (
	Owner          Kind = "Owner"
	SoftwareUpdate Kind = "SoftwareUpdate"
	Viewer         Kind = "Viewer"
	Files          Kind = "Files"
	SystemInfo     Kind = "SystemInfo"
	DiskInfo       Kind = "DiskInfo"
	NetworkInfo    Kind = "NetworkInfo"
)

// kindOrder fixes the canonical order of grants in a normalized set.
var kindOrder = map[Kind]int{
	Owner:          0,
	SoftwareUpdate: 1,
	Viewer:         2,
	SystemInfo:     3,
	DiskInfo:       4,
	NetworkInfo:    5,
	Files:          6,
}

// Valid reports whether k is a known variant.
func (k Kind) Valid() bool {
	_, ok := kindOrder[k]
	return ok
}

// FileAccess is the access level of a Files grant.
type FileAccess string

const (
	Read      FileAccess = "Read"
	ReadWrite FileAccess = "ReadWrite"
)

// Covers reports whether access a includes access b (Read ⊆ ReadWrite).
func (a FileAccess) Covers(b FileAccess) bool {
	switch a {
	case ReadWrite:
		return b == Read || b == ReadWrite
	case Read:
		return b == Read
	}
	return false
}

// Grant is one PermissionGrant. Path and Access are meaningful only
// for Files grants and are zero for every other kind.
type Grant struct {
	Kind   Kind       `cbor:"1,keyasint"`
	Path   string     `cbor:"2,keyasint,omitempty"`
	Access FileAccess `cbor:"3,keyasint,omitempty"`
}

// Unit returns a grant of a variant that carries no fields.
func Unit(kind Kind) Grant {
	return Grant{Kind: kind}
}

// FilesGrant returns a Files grant with a normalized path.
func FilesGrant(path string, access FileAccess) Grant {
	return Grant{Kind: Files, Path: NormalizePath(path), Access: access}
}

// Validate reports whether g is a well-formed grant.
func (g Grant) Validate() error {
	if !g.Kind.Valid() {
		return fmt.Errorf("unknown permission %q", g.Kind)
	}
	if g.Kind == Files {
		if g.Access != Read && g.Access != ReadWrite {
			return fmt.Errorf("files grant on %q: unknown access %q", g.Path, g.Access)
		}
		return nil
	}
	if g.Path != "" || g.Access != "" {
		return fmt.Errorf("permission %s takes no path or access", g.Kind)
	}
	return nil
}

func (g Grant) String() string {
	if g.Kind == Files {
		return fmt.Sprintf("Files(%s,%s)", g.Path, g.Access)
	}
	return string(g.Kind)
}

type filesBody struct {
	Path   string     `json:"path"`
	Access FileAccess `json:"access"`
}

// MarshalJSON encodes the grant as an externally tagged variant: unit
// variants as a bare string ("Owner"), Files as {"Files":{...}}.
func (g Grant) MarshalJSON() ([]byte, error) {
	if g.Kind == Files {
		return json.Marshal(map[Kind]filesBody{Files: {Path: g.Path, Access: g.Access}})
	}
	return json.Marshal(string(g.Kind))
}

// UnmarshalJSON accepts the forms produced by MarshalJSON. A unit
// variant may also arrive as {"Owner":null}.
func (g *Grant) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed := Grant{Kind: Kind(name)}
		if err := parsed.Validate(); err != nil {
			return err
		}
		*g = parsed
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("permission must be a string or single-key object: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("permission object must have exactly one key, got %d", len(tagged))
	}
	for name, body := range tagged {
		kind := Kind(name)
		if kind != Files {
			parsed := Grant{Kind: kind}
			if err := parsed.Validate(); err != nil {
				return err
			}
			*g = parsed
			return nil
		}
		var files filesBody
		if err := json.Unmarshal(body, &files); err != nil {
			return fmt.Errorf("decoding Files permission: %w", err)
		}
		parsed := FilesGrant(files.Path, files.Access)
		if err := parsed.Validate(); err != nil {
			return err
		}
		*g = parsed
	}
	return nil
}

func compare(a, b Grant) int {
	if c := cmp.Compare(kindOrder[a.Kind], kindOrder[b.Kind]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Path, b.Path); c != 0 {
		return c
	}
	return cmp.Compare(a.Access, b.Access)
}

// Normalize returns the canonical form of a grant set: Files paths
// normalized, duplicates removed, sorted by kind then path. The input
// is not modified. The result is never nil.
func Normalize(grants []Grant) []Grant {
	result := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Kind == Files {
			g.Path = NormalizePath(g.Path)
		}
		result = append(result, g)
	}
	slices.SortFunc(result, compare)
	return slices.Compact(result)
}

// Union returns the normalized union of a and b.
func Union(a, b []Grant) []Grant {
	return Normalize(slices.Concat(a, b))
}

// ValidateAll returns the first validation error in grants.
func ValidateAll(grants []Grant) error {
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether grants contains a grant of the given kind.
func Has(grants []Grant, kind Kind) bool {
	return slices.ContainsFunc(grants, func(g Grant) bool { return g.Kind == kind })
}

// NormalizePath canonicalizes a path for grant matching: surrounding
// whitespace trimmed, backslashes converted to slashes, trailing
// slashes removed. The root stays "/".
func NormalizePath(path string) string {
	path = strings.ReplaceAll(strings.TrimSpace(path), `\`, "/")
	if path == "" {
		return ""
	}
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// PathCovers reports whether a grant on grantPath covers requested.
func PathCovers(grantPath, requested string) bool {
	grantPath = NormalizePath(grantPath)
	if grantPath == "" || grantPath == "/" || grantPath == "*" {
		return true
	}
	requested = NormalizePath(requested)
	return requested == grantPath || strings.HasPrefix(requested, grantPath+"/")
}
