// Package errutil contains small helpers to simplify working with errors.
package errutil

import "io"

// Close closes c and, if err points to a nil error, stores the error
// returned by Close into it. Meant to be used in a defer right after a
// read already succeeded, so a late close failure isn't silently lost:
//
//	f, err := fs.Open(p)
//	if err != nil { return err }
//	defer errutil.Close(f, &err)
func Close(c io.Closer, err *error) {
	if e := c.Close(); *err == nil && e != nil {
		*err = e
	}
}
