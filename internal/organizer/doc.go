// Package organizer holds the stages that move files between archive areas:
// tagging the trusted copy before a checkout, placing checked-in files into
// the trusted archive while retiring superseded versions, and parking
// checked-out files in the working or past archives.
//
// The stages only touch the filesystem. Metadata bookkeeping lives in the
// dublincore, provenance, pidstage and catalog packages.
package organizer
