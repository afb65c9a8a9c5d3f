package health

import "errors"

var (
	// ErrNoCandidates names the case where every reference for a content
	// hash is either Dereferenced or offline. SelectBestCopy does not
	// return it; it reports that case as an empty slice.
	ErrNoCandidates = errors.New("health: no viable candidates")

	// ErrAllCandidatesFailed is returned by Repairer.Repair when the origin
	// node and every select_best_copy candidate failed to serve the
	// content.
	ErrAllCandidatesFailed = errors.New("health: all candidates failed")
)
