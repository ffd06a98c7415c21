package config

// Generator defaults
const (
	DefaultProvider          = "openai"
	DefaultModel             = "gpt-4o"
	DefaultAPIKeyEnv         = "OPENAI_API_KEY"
	DefaultGenerationRetries = 2
)

// Sandbox defaults
const (
	DefaultSandboxBackend        = "local"
	DefaultStageTimeoutMS        = 120000
	DefaultRetryMaxAttempts      = 3
	DefaultRetryInitialBackoffMS = 200
	DefaultRetryMaxBackoffMS     = 5000
	DefaultRetryBackoffFactor    = 2.0
)

// Search defaults
const (
	DefaultWidth            = 2
	DefaultMaxDepth         = 3
	DefaultExpansionRetries = 1
)

// Path defaults
const (
	DefaultPlanPath = ".forge/plan.yaml"
	DefaultAuditDir = ".forge/logs"
)

// Prompt defaults
const (
	DefaultMaxFileBytes    = 8192
	DefaultMaxFailureBytes = 2048
)
