package binder

import (
	"path/filepath"

	"github.com/go-playground/validator/v10"
	gobwas "github.com/gobwas/glob"
)

// globValidator accepts ignore patterns the walker can compile. Blank lines
// and comments are accepted since ignore files contain them too.
func globValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" || value[0] == '#' {
		return true
	}
	_, err := gobwas.Compile(value, '/')
	return err == nil
}

// absPathValidator accepts absolute filesystem paths.
func absPathValidator(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}
