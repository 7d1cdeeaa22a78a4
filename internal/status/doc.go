// Package status defines the canonical status model every upstream source is
// normalized into, the closed vocabularies it uses, and the typed failures a
// source fetch can produce.
//
// Two vocabularies exist side by side: StatusLevel describes one component,
// Severity describes a whole page. Both decode leniently: any value a source
// emits that is not part of the vocabulary becomes the Unknown variant rather
// than failing the decode.
package status
