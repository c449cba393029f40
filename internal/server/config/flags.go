package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/usageledger/internal/flagx"
)

var serverFlags = []string{
	"-a", "-g", "-d", "-s", "-k", "-r", "-q", "-i", "-e", "-w", "-t",
	"-b", "-m", "-o", "-l", "-u", "-x", "-y", "-n", "-p",
}

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN, or "memory"
//	-s string   JWT HMAC secret key
//	-k string   key encryption secret (enables key reveal)
//	-r string   Redis address, empty for in-process limits
//	-q int      per-account requests per window
//	-i int      per-IP requests per window
//	-e int      per-instance edge requests per window
//	-w int      rate limit window, seconds
//	-t int      signature timestamp tolerance, seconds
//	-b int      max sessions per batch
//	-m int      max request body, bytes
//	-o int      request timeout, seconds
//	-l string   log level (debug, info, warn, error)
//	-u string   audit S3 bucket, empty disables the archive
//	-x string   audit S3 region
//	-y string   audit S3 endpoint (e.g., "http://127.0.0.1:9000/")
//	-n string   audit S3 user
//	-p string   audit S3 password
//
// Duration flags are whole seconds.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port of the HTTP API")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "address and port of the gRPC key service")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.KeyEncryptionSecret, "k", config.KeyEncryptionSecret, "key encryption secret")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.IntVar(&config.AccountRateLimit, "q", config.AccountRateLimit, "requests per window per account")
	fs.IntVar(&config.IPRateLimit, "i", config.IPRateLimit, "requests per window per IP")
	fs.IntVar(&config.EdgeRateLimit, "e", config.EdgeRateLimit, "requests per window per IP and instance")

	window := fs.Int("w", int(config.RateLimitWindow.Seconds()), "rate limit window (in seconds)")
	tolerance := fs.Int("t", int(config.SignatureTolerance.Seconds()), "signature tolerance (in seconds)")

	fs.IntVar(&config.MaxBatchSize, "b", config.MaxBatchSize, "max sessions per batch")
	fs.Int64Var(&config.MaxBodyBytes, "m", config.MaxBodyBytes, "max request body size (in bytes)")

	timeout := fs.Int("o", int(config.RequestTimeout.Seconds()), "request timeout (in seconds)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.AuditS3Bucket, "u", config.AuditS3Bucket, "audit S3 bucket")
	fs.StringVar(&config.AuditS3Region, "x", config.AuditS3Region, "audit S3 region")
	fs.StringVar(&config.AuditS3Endpoint, "y", config.AuditS3Endpoint, "audit S3 endpoint")
	fs.StringVar(&config.AuditS3User, "n", config.AuditS3User, "audit S3 user")
	fs.StringVar(&config.AuditS3Password, "p", config.AuditS3Password, "audit S3 password")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RateLimitWindow = time.Duration(*window) * time.Second
	config.SignatureTolerance = time.Duration(*tolerance) * time.Second
	config.RequestTimeout = time.Duration(*timeout) * time.Second
}
