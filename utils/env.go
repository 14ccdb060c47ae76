package utils

import "os"

var (
	CRDB_DSN = os.Getenv("CRDB_DSN")

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	REDIS_ADDR     = os.Getenv("REDIS_ADDR")
	REDIS_PASSWORD = os.Getenv("REDIS_PASSWORD")

	// DistributedNE binary, launched under MPI_RUN_BIN
	PARTITIONER_BIN         = os.Getenv("PARTITIONER_BIN")
	PARTITIONER_OPTS        = os.Getenv("PARTITIONER_OPTS")
	PARTITIONER_TIMEOUT_SEC = GetEnvOrDefaultInt("PARTITIONER_TIMEOUT_SEC", 600)
	MPI_RUN_BIN             = GetEnvOrDefault("MPI_RUN_BIN", "mpirun")

	BULK_LOADER_BIN = GetEnvOrDefault("BULK_LOADER_BIN", "vwload")
	BULK_LOADER_DB  = os.Getenv("BULK_LOADER_DB")

	WORK_DIR = GetEnvOrDefault("WORK_DIR", os.TempDir())

	// HASH_SQL must return the bucket for probe $1 given $2 partitions
	HASH_SQL = GetEnvOrDefault("HASH_SQL", "select mod(abs(hashint8($1::int8)), $2::int8)")

	// Upper bound for identifier probing, exception partitions live below -1
	MAX_PROBE = GetEnvOrDefaultInt("MAX_PROBE", 32768)
)
