package bolt

import "errors"

var errNotInitialized = errors.New("bolt repository not initialized")
