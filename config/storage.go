package config

import (
	"os"
	"strings"

	"github.com/feichai0017/prp-orchestrator/pkg/storage"
)

func (c *Config) applyArchiveEnv() {
	setString(&c.Archive.Type, "ARCHIVE_TYPE")

	setString(&c.Archive.S3.BucketName, "AWS_S3_BUCKET_NAME")
	setString(&c.Archive.S3.Region, "AWS_REGION")
	setString(&c.Archive.S3.Endpoint, "AWS_ENDPOINT")
	setString(&c.Archive.S3.AccessKey, "AWS_ACCESS_KEY")
	setString(&c.Archive.S3.SecretKey, "AWS_SECRET_KEY")

	setString(&c.Archive.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Archive.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Archive.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Archive.Minio.Region, "MINIO_REGION")
	setString(&c.Archive.Minio.BucketName, "MINIO_BUCKET_NAME")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		c.Archive.Minio.UseSSL = strings.EqualFold(v, "true")
	}
}

// Storage converts the archive section for storage.NewStorage.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Type:  storage.StorageType(strings.ToLower(c.Archive.Type)),
		S3:    c.Archive.S3,
		Minio: c.Archive.Minio,
	}
}
