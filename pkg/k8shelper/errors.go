package k8shelper

import "errors"

var ErrNoNodePool = errors.New("no nodepool found")
