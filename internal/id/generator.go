package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewInvocationID generates a time-ordered identifier for one action invocation.
func NewInvocationID() string {
	return newIdentifier("inv")
}

// NewBatchID generates an identifier shared by the invocations of one batch.
func NewBatchID() string {
	return newIdentifier("batch")
}

// NewVerifyKey generates a random key a client uses to authenticate the
// lifecycle lines the server writes for it.
func NewVerifyKey() string {
	return uuid.NewString()
}

func newIdentifier(prefix string) string {
	body, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, body.String())
}
