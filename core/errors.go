package core

import "errors"

var (
	ErrMalformedCommand    = errors.New("malformed command")
	ErrUnauthorizedRequest = errors.New("unauthorized request")
	ErrConsentDenied       = errors.New("user denied the request")
	ErrConsentClosed       = errors.New("approval window closed without a decision")
	ErrUpstreamFailure     = errors.New("upstream failure")
	ErrNoActiveAccount     = errors.New("no active account")
	ErrAlreadyPending      = errors.New("request already awaiting approval")
	ErrAlreadyResolved     = errors.New("approval already resolved")
	ErrApprovalClaimed     = errors.New("approval is being carried out")
	ErrApprovalNotFound    = errors.New("approval not found")
	ErrNotFound            = errors.New("not found")
	ErrTokenCollision      = errors.New("token collision")
	ErrInvalidReceipt      = errors.New("invalid decision receipt")
)
