package s3backup

import (
	"errors"
	"fmt"
	"time"
)

// Config holds S3 archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
	// CreateBucket allows creating a missing bucket (dev only)
	CreateBucket bool
}

// Validate checks required fields when the archive is enabled
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("ARCHIVE_S3_ACCESS_KEY_ID is required when the archive is enabled")
	}
	if c.SecretAccessKey == "" {
		return errors.New("ARCHIVE_S3_SECRET_ACCESS_KEY is required when the archive is enabled")
	}
	if c.BucketName == "" {
		return errors.New("ARCHIVE_S3_BUCKET is required when the archive is enabled")
	}
	return nil
}

// IsEnabled returns true if the archive is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey generates the object key for an archived payload.
// Format: <prefix>/YYYY/MM/DD/<name>
func (c *Config) ObjectKey(name string, at time.Time) string {
	at = at.UTC()
	key := fmt.Sprintf("%04d/%02d/%02d/%s", at.Year(), int(at.Month()), at.Day(), name)
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}
