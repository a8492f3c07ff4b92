package gateway

import (
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

type outcomeKind int

const (
	outcomeHard outcomeKind = iota
	outcomeIgnorable
	outcomeNoPrivileges
	outcomeRateLimited
	outcomeTransient
)

type outcome struct {
	kind       outcomeKind
	retryAfter time.Duration
}

// ignorableFragments are Bad Request descriptions that mean the desired state
// already holds, so a tolerant call treats them as success without a result.
var ignorableFragments = []string{
	"message is not modified",
	"message to edit not found",
	"message to delete not found",
	"query is too old",
	"query id is invalid",
}

var privilegeFragments = []string{
	"not enough rights",
	"have no rights",
	"chat_admin_required",
	"user is an administrator of the chat",
}

func classify(err error) outcome {
	apiErr := &api.Error{}
	if !errors.As(err, &apiErr) {
		// Transport-level failure, same treatment as a server error.
		return outcome{kind: outcomeTransient}
	}

	switch {
	case apiErr.Code == 429:
		retryAfter := time.Duration(apiErr.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return outcome{kind: outcomeRateLimited, retryAfter: retryAfter}
	case apiErr.Code >= 500:
		return outcome{kind: outcomeTransient}
	}

	desc := strings.ToLower(apiErr.Message)
	for _, fragment := range privilegeFragments {
		if strings.Contains(desc, fragment) {
			return outcome{kind: outcomeNoPrivileges}
		}
	}
	for _, fragment := range ignorableFragments {
		if strings.Contains(desc, fragment) {
			return outcome{kind: outcomeIgnorable}
		}
	}
	return outcome{kind: outcomeHard}
}
