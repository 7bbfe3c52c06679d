package scim

import (
	"fmt"
	"strings"
)

// filterClause is one parsed `attribute eq "value"` comparison.
type filterClause struct {
	Attribute string
	Value     string
}

// filterAttributes are the only attributes the list endpoint can filter on.
var filterAttributes = map[string]string{
	"username":    "userName",
	"externalid":  "externalId",
	"displayname": "displayName",
	"active":      "active",
}

// parseFilter parses the supported subset of the SCIM filter grammar:
// `attribute eq "value"` clauses joined by `and`. Anything else is an error.
func parseFilter(expr string) ([]filterClause, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty filter expression")
	}

	var clauses []filterClause
	for _, part := range splitAnd(expr) {
		clause, err := parseClause(part)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// splitAnd splits a filter expression on the `and` keyword, respecting
// quoted values so `displayName eq "Sales and Ops"` stays one clause.
func splitAnd(expr string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	tokens := strings.Split(expr, " ")
	for _, tok := range tokens {
		if !inQuote && strings.EqualFold(tok, "and") {
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(tok)
		if quoteCount := strings.Count(tok, `"`); quoteCount%2 == 1 {
			inQuote = !inQuote
		}
	}
	parts = append(parts, current.String())
	return parts
}

func parseClause(expr string) (filterClause, error) {
	expr = strings.TrimSpace(expr)
	parts := strings.SplitN(expr, " ", 3)
	if len(parts) < 3 {
		return filterClause{}, fmt.Errorf("filter must be in format: attribute eq \"value\"")
	}

	attribute, ok := filterAttributes[strings.ToLower(parts[0])]
	if !ok {
		return filterClause{}, fmt.Errorf("unsupported filter attribute %q, supported: userName, externalId, displayName, active", parts[0])
	}

	if !strings.EqualFold(parts[1], "eq") {
		return filterClause{}, fmt.Errorf("unsupported operator %q, only \"eq\" is supported", parts[1])
	}

	value := strings.TrimSpace(parts[2])
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}

	return filterClause{Attribute: attribute, Value: value}, nil
}
