// Package validation holds the small set of input checks the CLI layer
// runs before handing arguments to the control plane. Kept deliberately
// thin: no network-address validation survives here since this engine has
// no listening surface (see DESIGN.md for why ValidateAddr was dropped).
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
	ErrEmptyString   = errors.New("value must not be empty")
	ErrOutOfRange    = errors.New("value out of range")
	ErrInvalidLabel  = errors.New("invalid snapshot label")
)

func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	if !filepath.IsAbs(p) {
		p = filepath.Clean(p)
	}
	if mustExist {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %v", ErrPathNotExists, err)
		}
	}
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

// ValidateLabel rejects snapshot labels containing newlines, which would
// corrupt the audit log's whitespace-tokenized line format if a label ever
// flowed into an argument string unescaped.
func ValidateLabel(label string) error {
	if strings.ContainsAny(label, "\n\r") {
		return ErrInvalidLabel
	}
	return nil
}
