package config

import (
	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"
)

// LoadSimpleContentConfig reads the simple-content service settings.
func LoadSimpleContentConfig() (*simpleconfig.ServerConfig, error) {
	opts := []simpleconfig.Option{
		simpleconfig.WithDatabase(getenv("DATABASE_TYPE", "postgres"), getenv("DATABASE_URL", "")),
		simpleconfig.WithDatabaseSchema(getenv("DATABASE_SCHEMA", "content")),
		simpleconfig.WithDefaultStorage(getenv("DEFAULT_STORAGE_BACKEND", "s3")),
	}

	switch getenv("DEFAULT_STORAGE_BACKEND", "s3") {
	case "s3":
		opts = append(opts, simpleconfig.WithS3StorageFull(
			"s3",
			getenv("AWS_S3_BUCKET", "loom-artifacts"),
			getenv("AWS_S3_REGION", "us-east-1"),
			getenv("AWS_ACCESS_KEY_ID", ""),
			getenv("AWS_SECRET_ACCESS_KEY", ""),
			getenv("AWS_S3_ENDPOINT", ""),
			getenvBool("AWS_S3_USE_SSL", false),
			getenvBool("AWS_S3_USE_PATH_STYLE", true),
		))
	case "memory":
		opts = append(opts, simpleconfig.WithMemoryStorage("memory"))
	}

	opts = append(opts,
		simpleconfig.WithEventLogging(false),
		simpleconfig.WithPreviews(false),
		simpleconfig.WithStorageDelegatedURLs(),
	)

	return simpleconfig.Load(opts...)
}
