package hubkey

import (
	"fmt"
	"regexp"
)

// Part patterns for hub key components. PartIDType and PartEntityID are also
// used by the index ingest validator, which checks percent-encoded
// source_id_type / source_id values against them.
const (
	PartResolver   = `https?://[^/\s]+`
	PartHub        = `[a-z0-9][a-z0-9\-]*`
	PartRepository = `[0-9a-f]{1,64}`
	PartEntityType = `[a-z][a-z_]*`
	PartOrg        = `[0-9a-zA-Z\-._~%+]+`
	PartIDType     = `[a-z0-9][a-z0-9\-]*`
	PartEntityID   = `[0-9a-zA-Z\-._~%+]+`
)

var (
	// s1: {resolver}/s1/{hub}/{repository}/{entity_type}/{entity_id}
	reS1 = regexp.MustCompile(
		`^(` + PartResolver + `)/s1/(` + PartHub + `)/(` + PartRepository + `)/(` + PartEntityType + `)/([0-9a-f]{1,64})$`)

	// s0: {resolver}/s0/{hub}/{entity_type}/{organisation}/{id_type}/{entity_id}
	reS0 = regexp.MustCompile(
		`^(` + PartResolver + `)/s0/(` + PartHub + `)/(` + PartEntityType + `)/(` + PartOrg + `)/(` + PartIDType + `)/(` + PartEntityID + `)$`)
)

// Key is a parsed hub key. Fields not present in the key's schema version
// are empty.
type Key struct {
	Resolver     string
	Schema       string
	Hub          string
	Repository   string
	EntityType   string
	Organisation string
	IDType       string
	EntityID     string
}

// Parse parses an s0 or s1 hub key.
func Parse(raw string) (*Key, error) {
	if m := reS1.FindStringSubmatch(raw); m != nil {
		return &Key{
			Resolver:   m[1],
			Schema:     "s1",
			Hub:        m[2],
			Repository: m[3],
			EntityType: m[4],
			EntityID:   m[5],
		}, nil
	}

	if m := reS0.FindStringSubmatch(raw); m != nil {
		return &Key{
			Resolver:     m[1],
			Schema:       "s0",
			Hub:          m[2],
			EntityType:   m[3],
			Organisation: m[4],
			IDType:       m[5],
			EntityID:     m[6],
		}, nil
	}

	return nil, fmt.Errorf("invalid hub key: %q", raw)
}
