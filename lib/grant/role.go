// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package grant

import "strings"

// Built-in role names.
const (
	RoleOwner  = "owner"
	RoleViewer = "viewer"
)

// NormalizeRole trims and lower-cases a role name.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// NormalizeRoles normalizes every role, dropping empties and
// duplicates while keeping first-seen order.
func NormalizeRoles(roles []string) []string {
	result := make([]string, 0, len(roles))
	seen := make(map[string]bool, len(roles))
	for _, role := range roles {
		role = NormalizeRole(role)
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		result = append(result, role)
	}
	return result
}

// RoleDefaults returns the grants implied by a role. Unknown roles
// imply nothing; they are kept as labels only.
func RoleDefaults(role string) []Grant {
	switch NormalizeRole(role) {
	case RoleOwner:
		return []Grant{Unit(Owner)}
	case RoleViewer:
		return []Grant{
			Unit(Viewer),
			Unit(SystemInfo),
			Unit(DiskInfo),
			Unit(NetworkInfo),
			FilesGrant("/", Read),
		}
	}
	return nil
}

// Expand returns the normalized union of explicit and the defaults of
// every role.
func Expand(roles []string, explicit []Grant) []Grant {
	all := append([]Grant(nil), explicit...)
	for _, role := range roles {
		all = append(all, RoleDefaults(role)...)
	}
	return Normalize(all)
}
