package monitoring

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/shared"
)

// ParseLegacyTechnicianList decodes the three technician-list encodings
// found in imported records: a JSON array of {id,nome} objects, a
// pipe-separated "id:nome|id:nome" string, or a bare comma list of ids.
// Parsing happens once at the boundary; downstream code only ever sees the
// typed refs.
func ParseLegacyTechnicianList(raw string) ([]identity.TechnicianRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var entries []struct {
			ID   int64  `json:"id"`
			Name string `json:"nome"`
		}
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("%w: malformed technician JSON: %v", shared.ErrValidation, err)
		}
		refs := make([]identity.TechnicianRef, 0, len(entries))
		for _, e := range entries {
			if e.ID <= 0 {
				return nil, fmt.Errorf("%w: technician id must be positive", shared.ErrValidation)
			}
			refs = append(refs, identity.TechnicianRef{ID: e.ID, Name: e.Name})
		}
		return refs, nil
	}

	if strings.Contains(raw, "|") || strings.Contains(raw, ":") {
		parts := strings.Split(raw, "|")
		refs := make([]identity.TechnicianRef, 0, len(parts))
		for _, part := range parts {
			idPart, name, ok := strings.Cut(part, ":")
			if !ok {
				return nil, fmt.Errorf("%w: malformed technician entry %q", shared.ErrValidation, part)
			}
			id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("%w: malformed technician id %q", shared.ErrValidation, idPart)
			}
			refs = append(refs, identity.TechnicianRef{ID: id, Name: strings.TrimSpace(name)})
		}
		return refs, nil
	}

	parts := strings.Split(raw, ",")
	refs := make([]identity.TechnicianRef, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: malformed technician id %q", shared.ErrValidation, part)
		}
		refs = append(refs, identity.TechnicianRef{ID: id})
	}
	return refs, nil
}
