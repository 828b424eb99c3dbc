package util

import (
	"fmt"
	"os"
)

const internalError = 1

// Bail prints the error to stderr and exits non-zero. Only the CLI
// boundary calls this; library packages return errors.
func Bail(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmsense: %v\n", err)
		os.Exit(internalError)
	}
}

// MessageBail is Bail for a plain message.
func MessageBail(msg string) {
	fmt.Fprintf(os.Stderr, "vmsense: %s\n", msg)
	os.Exit(internalError)
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsExecutable reports whether path names an existing regular file with
// any execute bit set.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
