package common

var (
	Version = "dev"

	PackageName = "secrets-gateway"
)
