package offlinecache

import (
	platformerrors "github.com/jmgilman/go/errors"
)

// networkFailure marks a fetch that never produced a response.
func networkFailure(err error, url string) error {
	return platformerrors.WrapWithContext(err, platformerrors.CodeNetwork, "fetch failed", map[string]interface{}{
		"url": url,
	})
}

// storageFailure marks a namespace read or write that did not complete.
func storageFailure(err error, op string) error {
	return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "namespace %s failed", op)
}

func invalidInput(err error, message string) error {
	if err == nil {
		return platformerrors.New(platformerrors.CodeInvalidInput, message)
	}
	return platformerrors.Wrap(err, platformerrors.CodeInvalidInput, message)
}

// IsNetworkFailure reports whether err came from a fetch that did not complete.
func IsNetworkFailure(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeNetwork
}

// IsStorageFailure reports whether err came from the durable response store.
func IsStorageFailure(err error) bool {
	return platformerrors.GetCode(err) == platformerrors.CodeDatabase
}
