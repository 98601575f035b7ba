package database

import "errors"

// ErrDuplicateCertificate is returned by certificate stores when a row
// for the same check-in already exists. Issuers treat it as a signal to
// re-read and return the stored artifact.
var ErrDuplicateCertificate = errors.New("certificate already issued for check-in")
