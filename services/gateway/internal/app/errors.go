package app

import "farmassist/pkg/domain"

var (
	// ErrPricesUnavailable is returned by the market use cases when no price
	// API key is configured.
	ErrPricesUnavailable error = &domain.UpstreamError{Service: "market", Message: "price API key not configured"}
	// ErrGeneratorFailed hides provider specific failures from clients.
	ErrGeneratorFailed error = &domain.UpstreamError{Service: "generator", Message: "Failed to generate answer"}
)
