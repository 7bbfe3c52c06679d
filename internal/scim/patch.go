package scim

import (
	"fmt"
	"strings"
)

// patchChanges is the normalized outcome of applying a PatchOp body: the
// field writes to perform plus an optional active-state transition, which
// the caller routes through deactivate/reactivate instead of a plain write.
type patchChanges struct {
	Active      *bool
	UserName    *string
	ExternalID  *string
	DisplayName *string
	GivenName   *string
	FamilyName  *string
}

// normalizePatch folds a PatchOp request into patchChanges. Ops and paths
// are matched case-insensitively because vendor IdPs disagree on casing.
// Unsupported paths are accepted and ignored rather than rejected, since
// IdPs routinely send attributes we do not store.
func normalizePatch(req SCIMPatchRequest) (patchChanges, error) {
	var changes patchChanges
	for _, op := range req.Operations {
		switch strings.ToLower(strings.TrimSpace(op.Op)) {
		case "replace", "add":
			if err := applyPatchValue(&changes, op.Path, op.Value); err != nil {
				return patchChanges{}, err
			}
		case "remove":
			applyPatchRemove(&changes, op.Path)
		default:
			return patchChanges{}, fmt.Errorf("unsupported patch op %q", op.Op)
		}
	}
	return changes, nil
}

func applyPatchValue(changes *patchChanges, path string, value any) error {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "active":
		active, err := parseScimBool(value)
		if err != nil {
			return fmt.Errorf("invalid active value: %w", err)
		}
		changes.Active = &active
	case "username":
		s, err := stringValue(value)
		if err != nil {
			return fmt.Errorf("invalid userName value: %w", err)
		}
		changes.UserName = &s
	case "externalid":
		s, err := stringValue(value)
		if err != nil {
			return fmt.Errorf("invalid externalId value: %w", err)
		}
		changes.ExternalID = &s
	case "displayname":
		s, err := stringValue(value)
		if err != nil {
			return fmt.Errorf("invalid displayName value: %w", err)
		}
		changes.DisplayName = &s
	case "name.givenname":
		s, err := stringValue(value)
		if err != nil {
			return fmt.Errorf("invalid name.givenName value: %w", err)
		}
		changes.GivenName = &s
	case "name.familyname":
		s, err := stringValue(value)
		if err != nil {
			return fmt.Errorf("invalid name.familyName value: %w", err)
		}
		changes.FamilyName = &s
	case "":
		// No path: the value is an object of attribute/value pairs.
		valueMap, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("patch op without path requires an object value")
		}
		for key, val := range valueMap {
			if strings.EqualFold(key, "name") {
				nameMap, ok := val.(map[string]any)
				if !ok {
					continue
				}
				for nameKey, nameVal := range nameMap {
					if err := applyPatchValue(changes, "name."+nameKey, nameVal); err != nil {
						return err
					}
				}
				continue
			}
			if err := applyPatchValue(changes, key, val); err != nil {
				return err
			}
		}
	default:
		// Unknown path. Tolerated, not applied.
	}
	return nil
}

func applyPatchRemove(changes *patchChanges, path string) {
	empty := ""
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "externalid":
		changes.ExternalID = &empty
	case "displayname":
		changes.DisplayName = &empty
	case "name.givenname":
		changes.GivenName = &empty
	case "name.familyname":
		changes.FamilyName = &empty
	}
}

// parseScimBool accepts native booleans plus the string forms vendor IdPs
// send ("True", "false", ...).
func parseScimBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		if strings.EqualFold(v, "true") {
			return true, nil
		}
		if strings.EqualFold(v, "false") {
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	default:
		return false, fmt.Errorf("not a boolean: %T", value)
	}
}

func stringValue(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", value)
	}
	return s, nil
}
