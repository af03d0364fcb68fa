package dynamo

// DynamoDB attribute names used in update and condition expressions across all repos.
const (
	fieldEnable        = "enable"
	fieldUpdatedAt     = "updated_at"
	fieldStage         = "stage"
	fieldExpiresAt     = "expires_at"
	fieldPurgeAt       = "purge_at"
	fieldPromotedAt    = "promoted_at"
	fieldRevoked       = "revoked"
	fieldCodeID        = "code_id"
	fieldAttempts      = "attempts"
	fieldConsumed      = "consumed"
	fieldConsumedAt    = "consumed_at"
	fieldEmailVerified = "email_verified"
	fieldTwoFAEnabled  = "two_fa_enabled"

	fieldTOTPSecret       = "totp_secret"
	fieldTOTPEnabled      = "totp_enabled"
	fieldTOTPLastStep     = "totp_last_step"
	fieldBackupCodeHashes = "backup_code_hashes"
	fieldFactorFailures   = "factor_failures"
)
