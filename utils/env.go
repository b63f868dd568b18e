package utils

import "os"

var (
	HTTP_PORT = GetEnvOrDefault("HTTP_PORT", "8080")

	QUERY_CACHE_ENTRIES = GetEnvOrDefaultInt("QUERY_CACHE_ENTRIES", 10_000)
	QUERY_STAGE_FANOUT  = GetEnvOrDefaultInt("QUERY_STAGE_FANOUT", 500)
	QUERY_FETCH_RETRIES = GetEnvOrDefaultInt("QUERY_FETCH_RETRIES", 5)

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_ENDPOINT = os.Getenv("S3_ENDPOINT")
)
