package archive

import (
	"fmt"
	"unicode/utf8"
)

// MaxFilenameBytes is the maximum length of a stored filename.
const MaxFilenameBytes = 4096

// Entry is the per-file metadata bound to an archive index. It is stored
// for display only: it is not part of the leaf hash and so carries no
// weight in the Merkle commitment.
type Entry struct {
	Filename string
}

// ValidateFilename enforces the non-empty, <=4096-byte, valid-UTF-8 rule.
func ValidateFilename(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("filename must not be empty")
	}
	if len(name) > MaxFilenameBytes {
		return fmt.Errorf("filename exceeds %d bytes", MaxFilenameBytes)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("filename is not valid UTF-8")
	}
	return nil
}
