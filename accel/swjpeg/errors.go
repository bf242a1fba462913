package swjpeg

import (
	"errors"
)

func errAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
