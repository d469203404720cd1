package replay

import "fmt"

// ErrorKind says which side of a download failed
type ErrorKind int

const (
	// TransportFailure covers request errors, bad statuses and interrupted or short bodies
	TransportFailure ErrorKind = iota
	// StorageFailure covers creating, writing, syncing or renaming the local file
	StorageFailure
)

func (k ErrorKind) String() string {
	switch k {
	case TransportFailure:
		return "transport failure"
	case StorageFailure:
		return "storage failure"
	default:
		return "unknown"
	}
}

// ReplayError is returned by DownloadReplay. No file exists at Path when it is returned.
type ReplayError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}
