package services

import (
	"os"
	"strconv"
	"time"
)

// Config carries the environment-derived settings shared by the Lambda
// entrypoints and the operator CLI. One state-machine ARN per resource kind,
// matching the sm_arn_<kind> environment variables.
type Config struct {
	WaitTime      time.Duration
	StagingBucket string
	KMSKeyAlias   string

	AccountStateMachineArn        string
	StackSetStateMachineArn       string
	ServiceCatalogStateMachineArn string
	SCPStateMachineArn            string
	AVMStateMachineArn            string
	HandshakeStateMachineArn      string
	ADConnectorStateMachineArn    string

	MaxConcurrentPercent   int
	FailedTolerancePercent int

	UnlockRoleArns         string
	SSMKeyForLockDownRoles string
	RunHistoryTable        string

	// Add-on publishing surface. LambdaArnParamName is the SSM name under
	// which the trigger Lambda registers its own ARN so add-on stacks can
	// invoke it.
	LambdaArnParamName string
	AddonTopicArn      string
	AddonTemplate      string
	AddonStack         string
	ReleaseNotes       string
}

// LoadConfig reads configuration from the environment, applying the documented
// defaults (wait_time 10s, 100% max concurrency, 10% failure tolerance).
func LoadConfig() *Config {
	return &Config{
		WaitTime:      time.Duration(envInt("wait_time", 10)) * time.Second,
		StagingBucket: os.Getenv("staging_bucket"),
		KMSKeyAlias:   envDefault("kms_key_alias_name", "alias/aws-landing-zone"),

		AccountStateMachineArn:        os.Getenv("sm_arn_account"),
		StackSetStateMachineArn:       os.Getenv("sm_arn_stack_set"),
		ServiceCatalogStateMachineArn: os.Getenv("sm_arn_service_catalog"),
		SCPStateMachineArn:            os.Getenv("sm_arn_service_control_policy"),
		AVMStateMachineArn:            os.Getenv("sm_arn_account_vending_machine"),
		HandshakeStateMachineArn:      os.Getenv("sm_arn_handshake"),
		ADConnectorStateMachineArn:    os.Getenv("sm_arn_ad_connector"),

		MaxConcurrentPercent:   envInt("MAX_CONCURRENT_PERCENT", 100),
		FailedTolerancePercent: envInt("FAILED_TOLERANCE_PERCENT", 10),

		UnlockRoleArns:         os.Getenv("unlock_role_arns"),
		SSMKeyForLockDownRoles: envDefault("ssm_key_for_lock_down_role_arns", "/org/primary/lock_down_role_arns"),
		RunHistoryTable:        os.Getenv("run_history_table"),

		LambdaArnParamName: os.Getenv("lambda_arn_param_name"),
		AddonTopicArn:      os.Getenv("AddonTopic"),
		AddonTemplate:      os.Getenv("AddonTemplate"),
		AddonStack:         os.Getenv("AddonStack"),
		ReleaseNotes:       os.Getenv("ReleaseNotes"),
	}
}

// StateMachineArnFor maps a pipeline stage to the state machine it submits to.
func (c *Config) StateMachineArnFor(stage string) string {
	switch stage {
	case "core_accounts":
		return c.AccountStateMachineArn
	case "core_resources", "baseline_resources":
		return c.StackSetStateMachineArn
	case "service_control_policy":
		return c.SCPStateMachineArn
	case "service_catalog":
		return c.ServiceCatalogStateMachineArn
	}
	return ""
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
