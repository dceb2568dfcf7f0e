package entities

import "errors"

var (
	errVisibilityDowngrade = errors.New("a private session cannot be changed to public")
)
