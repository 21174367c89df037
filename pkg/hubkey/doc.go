// Package hubkey parses hub keys, the structured URLs that identify an
// entity globally. Two schema versions exist: s0 keys carry an
// (organisation, id_type, id) triple, s1 keys carry a repository and a bare
// entity id.
package hubkey
