package errors

import "errors"

var (
	ErrStateMachineARNRequired   = errors.New("state machine ARN environment variable is required")
	ErrStagingBucketRequired     = errors.New("staging_bucket environment variable is required")
	ErrUnknownRequestType        = errors.New("unknown RequestType, expected Create, Update, or Delete")
	ErrUnknownResourceType       = errors.New("unknown ResourceType")
	ErrUnsupportedDeployMethod   = errors.New("unsupported deploy_method, expected stack_set")
	ErrManifestNotFound          = errors.New("manifest.yaml not found in configuration artifact")
	ErrContinuationLost          = errors.New("continuation token state not found, treating stage as failed")
	ErrParameterNotFound         = errors.New("ssm parameter not found")
	ErrOrganizationInitializing  = errors.New("organization is still initializing")
	ErrOperationInProgress       = errors.New("stack set operation already in progress")
	ErrStackInstanceNotFound     = errors.New("stack instance not found")
	ErrPeeringConnectionNotFound = errors.New("vpc peering connection not found")
	ErrAccountNotInitialized     = errors.New("account not yet initialized")
)
