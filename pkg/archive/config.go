// Package archive uploads run results to S3-compatible storage.
package archive

// Config configures the archive uploader.
//
// Authentication follows the AWS SDK v2 default chain unless explicit
// credentials are provided. For S3-compatible stores (MinIO, Wasabi,
// institutional object stores), set Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the destination bucket (required).
	Bucket string

	// Prefix is prepended to every uploaded key, typically the run id or a
	// cohort name. Optional.
	Prefix string

	// Region is the AWS region. For AWS S3 it defaults to us-east-1 when
	// nothing else resolves one; when Endpoint is set, no default applies.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores. Leave
	// empty for AWS S3.
	Endpoint string

	// Profile is the AWS shared-config profile to use. Optional.
	Profile string

	// AccessKeyID and SecretAccessKey are explicit credentials. If one is
	// set, both must be. They take precedence over the default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs. Required for most
	// S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "archive config: " + e.Field + ": " + e.Message
}
