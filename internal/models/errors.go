// internal/models/errors.go
package models

// Error codes surfaced to clients in error events. The client keys its
// localized error strings off these.
const (
	ErrCodeMissingAPIKey     = "ERR_MISSING_API_KEY"
	ErrCodeInsufficientQuota = "ERR_INSUFFICIENT_QUOTA"
	ErrCodeNotCaptain        = "ERR_NOT_CAPTAIN"
	ErrCodeNotMember         = "ERR_NOT_MEMBER"
	ErrCodeBadPhase          = "ERR_BAD_PHASE"
	ErrCodeLobbyNotFound     = "ERR_LOBBY_NOT_FOUND"
	ErrCodeCollectionBusy    = "ERR_COLLECTION_BUSY"
	ErrCodeGeneration        = "ERR_GENERATION_FAILED"
	ErrCodeBadSettings       = "ERR_BAD_SETTINGS"
)
