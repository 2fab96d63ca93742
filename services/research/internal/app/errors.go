package app

import "errors"

var (
	ErrInvalidURL     = errors.New("websiteUrl is required and must be an http(s) URL")
	ErrResearchFailed = errors.New("research failed")
	ErrBlockedAddress = errors.New("address not allowed")
)
